// Package experiment drives the federated learning research runs: FedAvg
// training with round checkpointing, followed by an optional hierarchical
// clustering stage that splits clients by weight similarity.
package experiment

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/google/uuid"

	"github.com/max-27/mlmi-federated-learning/checkpoint"
	"github.com/max-27/mlmi-federated-learning/dataset"
	"github.com/max-27/mlmi-federated-learning/dataset/femnist"
	"github.com/max-27/mlmi-federated-learning/dataset/ham10k"
	"github.com/max-27/mlmi-federated-learning/dataset/mnist"
	"github.com/max-27/mlmi-federated-learning/dataset/omniglot"
	"github.com/max-27/mlmi-federated-learning/federated"
	"github.com/max-27/mlmi-federated-learning/hierarchical"
	"github.com/max-27/mlmi-federated-learning/metricslog"
	"github.com/max-27/mlmi-federated-learning/model"
	"github.com/max-27/mlmi-federated-learning/pkg/errors"
	"github.com/max-27/mlmi-federated-learning/pkg/pubsub"
	"github.com/max-27/mlmi-federated-learning/pkg/storage"
)

type Service interface {
	// CreateRun registers a new run for one resolved config.
	CreateRun(ctx context.Context, cfg Config) (Run, error)
	GetRun(ctx context.Context, id string) (Run, error)
	// UpdateRun persists changes to an existing run, for example a raised
	// round budget before resuming.
	UpdateRun(ctx context.Context, r Run) (Run, error)
	ListRuns(ctx context.Context, offset, limit uint64) (RunPage, error)
	// ListRounds returns the persisted round records of a run.
	ListRounds(ctx context.Context, runID string) (RoundPage, error)
	// GetClusters returns the cluster assignment of the hierarchical stage.
	GetClusters(ctx context.Context, runID string) (map[string][]string, error)
	// RunFederated executes the FedAvg rounds, resuming from the latest
	// checkpoint when one exists.
	RunFederated(ctx context.Context, runID string) (Run, error)
	// RunHierarchical executes the clustering stage on top of the round
	// checkpoints written by RunFederated.
	RunHierarchical(ctx context.Context, runID string) (Run, error)
}

type service struct {
	runsDB    storage.Storage
	ckpts     *checkpoint.Store
	bus       pubsub.PubSub
	artifacts string
	namegen   namegenerator.NameGenerator
}

func NewService(runsDB storage.Storage, ckpts *checkpoint.Store, bus pubsub.PubSub, artifactsDir string) Service {
	return &service{
		runsDB:    runsDB,
		ckpts:     ckpts,
		bus:       bus,
		artifacts: artifactsDir,
		namegen:   namegenerator.NewGenerator(),
	}
}

func (svc *service) CreateRun(ctx context.Context, cfg Config) (Run, error) {
	if cfg.TotalRounds <= 0 {
		return Run{}, fmt.Errorf("total rounds must be positive, got %d", cfg.TotalRounds)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = federated.DefaultConcurrency
	}

	r := Run{
		ID:        uuid.NewString(),
		Name:      svc.namegen.Generate(),
		Config:    cfg,
		State:     Pending,
		CreatedAt: time.Now(),
	}
	if err := svc.runsDB.Create(ctx, r.ID, r); err != nil {
		return Run{}, err
	}

	return r, nil
}

func (svc *service) GetRun(ctx context.Context, id string) (Run, error) {
	data, err := svc.runsDB.Get(ctx, id)
	if err != nil {
		return Run{}, err
	}
	r, ok := data.(Run)
	if !ok {
		return Run{}, errors.ErrInvalidData
	}

	return r, nil
}

func (svc *service) UpdateRun(ctx context.Context, r Run) (Run, error) {
	if _, err := svc.GetRun(ctx, r.ID); err != nil {
		return Run{}, err
	}
	if err := svc.runsDB.Update(ctx, r.ID, r); err != nil {
		return Run{}, err
	}

	return r, nil
}

func (svc *service) ListRuns(ctx context.Context, offset, limit uint64) (RunPage, error) {
	data, total, err := svc.runsDB.List(ctx, offset, limit)
	if err != nil {
		return RunPage{}, err
	}

	runs := make([]Run, 0, len(data))
	for i := range data {
		r, ok := data[i].(Run)
		if !ok {
			return RunPage{}, errors.ErrInvalidData
		}
		runs = append(runs, r)
	}

	return RunPage{
		Offset: offset,
		Limit:  limit,
		Total:  total,
		Runs:   runs,
	}, nil
}

func (svc *service) ListRounds(ctx context.Context, runID string) (RoundPage, error) {
	if _, err := svc.GetRun(ctx, runID); err != nil {
		return RoundPage{}, err
	}

	rounds, err := svc.ckpts.ListRounds(runID)
	if err != nil {
		return RoundPage{}, err
	}

	page := RoundPage{RunID: runID, Rounds: make([]RoundRecord, 0, len(rounds))}
	for _, round := range rounds {
		rec, _, err := svc.ckpts.LoadRound(runID, round)
		if err != nil {
			return RoundPage{}, err
		}
		page.Rounds = append(page.Rounds, RoundRecord{
			Round:        rec.Round,
			Tag:          rec.Tag,
			Loss:         rec.Loss,
			Accuracy:     rec.Accuracy,
			Participants: rec.Participants,
			SavedAt:      rec.SavedAt,
		})
	}

	return page, nil
}

func (svc *service) GetClusters(ctx context.Context, runID string) (map[string][]string, error) {
	if _, err := svc.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	return svc.ckpts.LoadClusters(runID)
}

func (svc *service) RunFederated(ctx context.Context, runID string) (Run, error) {
	r, err := svc.begin(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	cfg := r.Config

	clients, _, err := svc.loadClients(cfg)
	if err != nil {
		return svc.fail(ctx, r, err)
	}

	rec, err := metricslog.NewRecorder(svc.artifacts, r.ID, svc.bus)
	if err != nil {
		return svc.fail(ctx, r, err)
	}
	defer rec.Close()

	if err := saveDataHeatmap(rec.Dir(), "labels.png", clients); err != nil {
		return svc.fail(ctx, r, err)
	}

	args := model.TrainArgs{
		Epochs:       cfg.LocalEpochs,
		BatchSize:    cfg.BatchSize,
		LearningRate: cfg.LearningRate,
	}
	agg := federated.NewFedAvg()
	rng := rand.New(rand.NewSource(cfg.Seed))

	start := 0
	if cfg.Checkpointing {
		latest, ok, err := svc.ckpts.LatestRound(r.ID)
		if err != nil {
			return svc.fail(ctx, r, err)
		}
		if ok {
			_, params, err := svc.ckpts.LoadRound(r.ID, latest)
			if err != nil {
				return svc.fail(ctx, r, err)
			}
			if err := federated.Distribute(params, clients); err != nil {
				return svc.fail(ctx, r, err)
			}
			start = latest
		}
	}

	for round := start + 1; round <= cfg.TotalRounds; round++ {
		selected := federated.SelectClients(rng, clients, cfg.ClientFraction)
		params, err := federated.RunRound(ctx, agg, clients, selected, args, cfg.Concurrency)
		if err != nil {
			return svc.fail(ctx, r, fmt.Errorf("round %d: %w", round, err))
		}

		metrics, err := federated.EvaluateAll(ctx, clients, cfg.Concurrency)
		if err != nil {
			return svc.fail(ctx, r, err)
		}
		if err := rec.Scalar(ctx, "fedavg/test/loss", round, metrics.Loss); err != nil {
			return svc.fail(ctx, r, err)
		}
		if err := rec.Scalar(ctx, "fedavg/test/acc", round, metrics.Accuracy); err != nil {
			return svc.fail(ctx, r, err)
		}

		if cfg.Checkpointing {
			ids := make([]string, len(selected))
			for i, c := range selected {
				ids[i] = c.ID()
			}
			record := checkpoint.Record{
				Round:        round,
				Tag:          "fedavg",
				Loss:         metrics.Loss,
				Accuracy:     metrics.Accuracy,
				Participants: ids,
			}
			if err := svc.ckpts.SaveRound(r.ID, record, params); err != nil {
				return svc.fail(ctx, r, err)
			}
		}

		r.CurrentRound = round
		r.Loss = metrics.Loss
		r.Accuracy = metrics.Accuracy
		if err := svc.runsDB.Update(ctx, r.ID, r); err != nil {
			return svc.fail(ctx, r, err)
		}
	}

	return svc.complete(ctx, r)
}

func (svc *service) RunHierarchical(ctx context.Context, runID string) (Run, error) {
	r, err := svc.begin(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	cfg := r.Config

	initRounds := cfg.ClusterInitRounds
	if len(initRounds) == 0 {
		latest, ok, err := svc.ckpts.LatestRound(r.ID)
		if err != nil {
			return svc.fail(ctx, r, err)
		}
		if !ok {
			return svc.fail(ctx, r, fmt.Errorf("run %s has no checkpoints to cluster from", r.ID))
		}
		initRounds = []int{latest}
	}

	rec, err := metricslog.NewRecorder(svc.artifacts, r.ID, svc.bus)
	if err != nil {
		return svc.fail(ctx, r, err)
	}
	defer rec.Close()

	args := hierarchical.Args{
		Partitioner:    cfg.Partitioner,
		Clustering:     cfg.Clustering,
		NumClusters:    cfg.NumClusters,
		ClientFraction: cfg.ClientFraction,
		TrainArgs: model.TrainArgs{
			Epochs:       cfg.LocalEpochs,
			BatchSize:    cfg.BatchSize,
			LearningRate: cfg.LearningRate,
		},
		Concurrency: cfg.Concurrency,
		Seed:        cfg.Seed,
	}

	for _, initRound := range initRounds {
		// Each cluster loop consumes the round budget the FedAvg stage did
		// not: an explicit RoundsCluster overrides that.
		args.RoundsCluster = cfg.RoundsCluster
		if args.RoundsCluster <= 0 {
			args.RoundsCluster = cfg.TotalRounds - initRound
		}

		clients, _, err := svc.loadClients(cfg)
		if err != nil {
			return svc.fail(ctx, r, err)
		}

		_, params, err := svc.ckpts.LoadRound(r.ID, initRound)
		if err != nil {
			return svc.fail(ctx, r, fmt.Errorf("restoring round %d: %w", initRound, err))
		}
		if err := federated.Distribute(params, clients); err != nil {
			return svc.fail(ctx, r, err)
		}

		prefix := fmt.Sprintf("hierarchical/init%02d", initRound)
		var hookErr error
		hooks := hierarchical.Hooks{
			AfterInitialTrain: func(m federated.Metrics) {
				hookErr = firstErr(hookErr, rec.Scalar(ctx, prefix+"/initial/loss", initRound, m.Loss))
				hookErr = firstErr(hookErr, rec.Scalar(ctx, prefix+"/initial/acc", initRound, m.Accuracy))
			},
			AfterClustering: func(clusters map[string][]*federated.Client) {
				for id, members := range clusters {
					name := fmt.Sprintf("cluster_%s_labels.png", id)
					hookErr = firstErr(hookErr, saveDataHeatmap(rec.Dir(), name, members))
				}
			},
			AfterClusterRound: func(id string, round int, m federated.Metrics) {
				hookErr = firstErr(hookErr, rec.Scalar(ctx, fmt.Sprintf("%s/cluster%s/loss", prefix, id), round, m.Loss))
				hookErr = firstErr(hookErr, rec.Scalar(ctx, fmt.Sprintf("%s/cluster%s/acc", prefix, id), round, m.Accuracy))
			},
			AfterGlobalRound: func(round int, m federated.Metrics) {
				hookErr = firstErr(hookErr, rec.Scalar(ctx, prefix+"/global/loss", round, m.Loss))
				hookErr = firstErr(hookErr, rec.Scalar(ctx, prefix+"/global/acc", round, m.Accuracy))
			},
		}

		clusters, err := hierarchical.Run(ctx, clients, args, func() federated.Aggregator {
			return federated.NewFedAvg()
		}, hooks)
		if err != nil {
			return svc.fail(ctx, r, fmt.Errorf("clustering stage at round %d: %w", initRound, err))
		}
		if hookErr != nil {
			return svc.fail(ctx, r, hookErr)
		}

		assignment := clusterIDs(clusters)
		if err := svc.ckpts.SaveClusters(r.ID, assignment); err != nil {
			return svc.fail(ctx, r, err)
		}

		r.Clusters = assignment
		if err := svc.runsDB.Update(ctx, r.ID, r); err != nil {
			return svc.fail(ctx, r, err)
		}
	}

	return svc.complete(ctx, r)
}

func (svc *service) begin(ctx context.Context, runID string) (Run, error) {
	r, err := svc.GetRun(ctx, runID)
	if err != nil {
		return Run{}, err
	}

	r.State = Running
	r.Error = ""
	r.StartTime = time.Now()
	if err := svc.runsDB.Update(ctx, r.ID, r); err != nil {
		return Run{}, err
	}

	return r, nil
}

func (svc *service) complete(ctx context.Context, r Run) (Run, error) {
	r.State = Completed
	r.FinishTime = time.Now()
	if err := svc.runsDB.Update(ctx, r.ID, r); err != nil {
		return Run{}, err
	}

	return r, nil
}

func (svc *service) fail(ctx context.Context, r Run, cause error) (Run, error) {
	r.State = Failed
	r.Error = cause.Error()
	r.FinishTime = time.Now()
	if err := svc.runsDB.Update(ctx, r.ID, r); err != nil {
		return Run{}, err
	}

	return r, cause
}

// loadClients builds the client population for a config: load the dataset,
// then give every client a model initialized from the same seed so all of
// them start from identical global parameters.
func (svc *service) loadClients(cfg Config) ([]*federated.Client, *dataset.Federated, error) {
	fed, err := loadDataset(cfg)
	if err != nil {
		return nil, nil, err
	}

	clients := make([]*federated.Client, len(fed.Clients))
	for i, data := range fed.Clients {
		m, err := model.New(model.Args{
			Arch:        cfg.Arch,
			NumFeatures: fed.NumFeatures,
			NumClasses:  fed.NumClasses,
			Hidden:      cfg.Hidden,
			Seed:        cfg.Seed,
		})
		if err != nil {
			return nil, nil, err
		}
		clients[i] = federated.NewClient(data.ID, m, data, fed.NumClasses, cfg.Seed+int64(i))
	}

	return clients, fed, nil
}

func loadDataset(cfg Config) (*dataset.Federated, error) {
	switch cfg.Dataset {
	case "mnist":
		return mnist.Load(mnist.Config{
			DataDir:    cfg.DataDir,
			NumClients: cfg.NumClients,
			BatchSize:  cfg.BatchSize,
			Seed:       cfg.Seed,
		})
	case "femnist":
		return femnist.Load(femnist.Config{
			DataDir:         cfg.DataDir,
			NumClients:      cfg.NumClients,
			BatchSize:       cfg.BatchSize,
			SampleThreshold: cfg.SampleThreshold,
			NumLabelLimit:   cfg.NumLabelLimit,
			Seed:            cfg.Seed,
		})
	case "ham10k":
		return ham10k.Load(ham10k.Config{
			DataDir:   cfg.DataDir,
			BatchSize: cfg.BatchSize,
			Seed:      cfg.Seed,
		})
	case "omniglot":
		// Federated training runs on the meta-train tasks; the held-out
		// tasks only size the character split.
		train, _, err := omniglot.Load(omniglot.Config{
			DataDir:             cfg.DataDir,
			NumClientsTrain:     cfg.NumClients,
			NumClientsTest:      cfg.NumClientsTest,
			NumClassesPerClient: cfg.NumClassesPerClient,
			NumShotsPerClass:    cfg.NumShotsPerClass,
			InnerBatchSize:      cfg.BatchSize,
			Seed:                cfg.Seed,
		})

		return train, err
	case "synthetic":
		return dataset.LoadSynthetic(dataset.SyntheticConfig{
			NumClients:       cfg.NumClients,
			NumClasses:       cfg.NumClasses,
			NumFeatures:      8,
			ClassesPerClient: 2,
			TrainPerClient:   60,
			TestPerClient:    20,
			BatchSize:        cfg.BatchSize,
			Seed:             cfg.Seed,
		})
	default:
		return nil, fmt.Errorf("unknown dataset %q", cfg.Dataset)
	}
}

func saveDataHeatmap(dir, name string, clients []*federated.Client) error {
	counts := make([][]int, len(clients))
	for i, c := range clients {
		counts[i] = c.LabelCounts()
	}

	return metricslog.SaveLabelHeatmap(filepath.Join(dir, name), counts)
}

func clusterIDs(clusters map[string][]*federated.Client) map[string][]string {
	assignment := make(map[string][]string, len(clusters))
	for id, members := range clusters {
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.ID()
		}
		assignment[id] = ids
	}

	return assignment
}

func firstErr(current, next error) error {
	if current != nil {
		return current
	}

	return next
}
