// Package cli implements the experiment driver commands.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	mlmi "github.com/max-27/mlmi-federated-learning"
	"github.com/max-27/mlmi-federated-learning/experiment"
	"github.com/max-27/mlmi-federated-learning/metricslog"
	"github.com/max-27/mlmi-federated-learning/pkg/pubsub"
)

var (
	defOffset   uint64 = 0
	defLimit    uint64 = 10
	configPath  string
	skipStages  []string
	mqttAddress string
	mqttTimeout time.Duration
)

var svc experiment.Service

// SetService wires the experiment service the commands run against.
func SetService(s experiment.Service) {
	svc = s
}

func NewExperimentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiments [run|presets|list|view|rounds|clusters|watch]",
		Short: "Experiment driver",
		Long:  `Run experiment presets and inspect their runs, rounds and clusters.`,
	}

	runCmd := &cobra.Command{
		Use:   "run [preset]",
		Short: "Run a preset",
		Long: `Expand a preset's hyperparameter grid and execute every run:
federated rounds first, then the clustering stage when the preset has one.
With no argument an interactive picker is shown.`,
		Run: func(cmd *cobra.Command, args []string) {
			name, err := resolvePresetName(args)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			preset, err := resolvePreset(name)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			for _, cfg := range preset.Expand() {
				r, err := svc.CreateRun(cmd.Context(), cfg)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}

				if !skipped("federated") {
					if r, err = svc.RunFederated(cmd.Context(), r.ID); err != nil {
						logErrorCmd(*cmd, err)

						return
					}
				}

				if len(cfg.ClusterInitRounds) > 0 && !skipped("clustering") {
					if r, err = svc.RunHierarchical(cmd.Context(), r.ID); err != nil {
						logErrorCmd(*cmd, err)

						return
					}
				}

				logJSONCmd(*cmd, r)
			}
			logSuccessCmd(*cmd, fmt.Sprintf("preset %s finished", name))
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML experiment file with custom presets")
	runCmd.Flags().StringSliceVar(&skipStages, "skip", nil, "stages to skip: federated, clustering")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "List presets",
		Run: func(cmd *cobra.Command, args []string) {
			logJSONCmd(*cmd, experiment.PresetNames())
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		Run: func(cmd *cobra.Command, args []string) {
			page, err := svc.ListRuns(cmd.Context(), defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}
	listCmd.Flags().Uint64VarP(&defOffset, "offset", "o", defOffset, "offset")
	listCmd.Flags().Uint64VarP(&defLimit, "limit", "l", defLimit, "limit")

	viewCmd := &cobra.Command{
		Use:   "view <run_id>",
		Short: "View a run",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			r, err := svc.GetRun(cmd.Context(), args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, r)
		},
	}

	roundsCmd := &cobra.Command{
		Use:   "rounds <run_id>",
		Short: "List a run's round records",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := svc.ListRounds(cmd.Context(), args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	clustersCmd := &cobra.Command{
		Use:   "clusters <run_id>",
		Short: "Show a run's cluster assignment",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			clusters, err := svc.GetClusters(cmd.Context(), args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, clusters)
		},
	}

	watchCmd := &cobra.Command{
		Use:   "watch <run_id>",
		Short: "Tail a run's scalars live",
		Long: `Subscribe to a run's scalar topic on the MQTT event bus and print
every entry as it is published. The run must execute against a daemon
configured with the same broker.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: slog.LevelWarn,
			}))
			bus, err := pubsub.NewPubSub(mqttAddress, 1, uuid.NewString(), mqttTimeout, logger)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			defer func() {
				if err := bus.Disconnect(cmd.Context()); err != nil {
					logErrorCmd(*cmd, err)
				}
			}()

			topic := metricslog.ScalarsTopic(args[0])
			err = bus.Subscribe(cmd.Context(), topic, func(_ string, msg map[string]any) error {
				logJSONCmd(*cmd, msg)

				return nil
			})
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			if err := bus.Unsubscribe(cmd.Context(), topic); err != nil {
				logErrorCmd(*cmd, err)
			}
		},
	}
	watchCmd.Flags().StringVarP(&mqttAddress, "mqtt-address", "m", "tcp://localhost:1883", "MQTT broker address")
	watchCmd.Flags().DurationVar(&mqttTimeout, "mqtt-timeout", 30*time.Second, "MQTT operation timeout")

	cmd.AddCommand(runCmd)
	cmd.AddCommand(presetsCmd)
	cmd.AddCommand(listCmd)
	cmd.AddCommand(viewCmd)
	cmd.AddCommand(roundsCmd)
	cmd.AddCommand(clustersCmd)
	cmd.AddCommand(watchCmd)

	return cmd
}

func resolvePresetName(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	var name string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Choose a preset").
			Options(huh.NewOptions(presetChoices()...)...).
			Value(&name),
	))
	if err := form.Run(); err != nil {
		return "", err
	}

	return name, nil
}

func presetChoices() []string {
	names := experiment.PresetNames()
	if configPath == "" {
		return names
	}

	cfg, err := mlmi.LoadConfig(configPath)
	if err != nil {
		return names
	}
	for _, p := range cfg.Presets {
		names = append(names, p.Name)
	}

	return names
}

func resolvePreset(name string) (experiment.Preset, error) {
	if configPath != "" {
		cfg, err := mlmi.LoadConfig(configPath)
		if err != nil {
			return experiment.Preset{}, err
		}

		return cfg.Preset(name)
	}

	return experiment.GetPreset(name)
}

func skipped(stage string) bool {
	for _, s := range skipStages {
		if strings.EqualFold(s, stage) {
			return true
		}
	}

	return false
}
