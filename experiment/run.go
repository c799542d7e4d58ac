package experiment

import "time"

type State uint8

const (
	Pending State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Run is one experiment execution: a single point of the configuration grid
// together with its progress and outcome.
type Run struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Config       Config              `json:"config"`
	State        State               `json:"state"`
	Error        string              `json:"error,omitempty"`
	CurrentRound int                 `json:"current_round"`
	Loss         float64             `json:"loss"`
	Accuracy     float64             `json:"accuracy"`
	Clusters     map[string][]string `json:"clusters,omitempty"`
	StartTime    time.Time           `json:"start_time"`
	FinishTime   time.Time           `json:"finish_time"`
	CreatedAt    time.Time           `json:"created_at"`
}

type RunPage struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
	Total  uint64 `json:"total"`
	Runs   []Run  `json:"runs"`
}

// RoundPage lists the persisted round records of a run.
type RoundPage struct {
	RunID  string        `json:"run_id"`
	Rounds []RoundRecord `json:"rounds"`
}

// RoundRecord mirrors what the checkpoint store keeps per round.
type RoundRecord struct {
	Round        int       `json:"round"`
	Tag          string    `json:"tag,omitempty"`
	Loss         float64   `json:"loss"`
	Accuracy     float64   `json:"accuracy"`
	Participants []string  `json:"participants,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}
