package dataset

import "sort"

// ScratchLabels reduces every client's local data to its limit most frequent
// labels. Clients whose raw partitions cover too many classes get scratched
// down so that clustering has label-skew structure to discover.
func ScratchLabels(fed *Federated, limit int) *Federated {
	if limit <= 0 {
		return fed
	}

	out := &Federated{
		Name:        fed.Name,
		NumClasses:  fed.NumClasses,
		NumFeatures: fed.NumFeatures,
		BatchSize:   fed.BatchSize,
		Clients:     make([]ClientData, 0, len(fed.Clients)),
	}

	for i := range fed.Clients {
		c := fed.Clients[i]
		keep := topLabels(c.LabelCounts(fed.NumClasses), limit)

		scratched := ClientData{ID: c.ID}
		for _, s := range c.Train {
			if keep[s.Label] {
				scratched.Train = append(scratched.Train, s)
			}
		}
		for _, s := range c.Test {
			if keep[s.Label] {
				scratched.Test = append(scratched.Test, s)
			}
		}
		out.Clients = append(out.Clients, scratched)
	}

	return out
}

func topLabels(counts []int, limit int) map[int]bool {
	type lc struct{ label, count int }
	ranked := make([]lc, 0, len(counts))
	for label, count := range counts {
		if count > 0 {
			ranked = append(ranked, lc{label, count})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}

		return ranked[i].label < ranked[j].label
	})

	if limit > len(ranked) {
		limit = len(ranked)
	}
	keep := make(map[int]bool, limit)
	for _, r := range ranked[:limit] {
		keep[r.label] = true
	}

	return keep
}
