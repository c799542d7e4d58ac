package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/max-27/mlmi-federated-learning/checkpoint"
	"github.com/max-27/mlmi-federated-learning/cli"
	"github.com/max-27/mlmi-federated-learning/experiment"
	"github.com/max-27/mlmi-federated-learning/experiment/middleware"
	"github.com/max-27/mlmi-federated-learning/pkg/pubsub"
	"github.com/max-27/mlmi-federated-learning/pkg/storage"
)

const (
	defArtifactsDir   = "artifacts"
	defCheckpointsDir = "artifacts/checkpoints"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mlmi-cli",
		Short: "Federated learning experiments CLI",
		Long:  `Run federated learning experiment presets locally and inspect their results.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelWarn,
			}))

			ckpts, err := checkpoint.NewStore(defCheckpointsDir)
			if err != nil {
				log.Fatalf("failed to open checkpoint store: %s", err.Error())
			}

			svc := experiment.NewService(storage.NewInMemoryStorage(), ckpts, pubsub.NewNoop(), defArtifactsDir)
			svc = middleware.Logging(logger, svc)
			cli.SetService(svc)
		},
	}

	rootCmd.AddCommand(cli.NewExperimentsCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
