package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/max-27/mlmi-federated-learning/checkpoint"
	"github.com/max-27/mlmi-federated-learning/experiment"
	"github.com/max-27/mlmi-federated-learning/experiment/api"
	"github.com/max-27/mlmi-federated-learning/experiment/middleware"
	"github.com/max-27/mlmi-federated-learning/pkg/prometheus"
	"github.com/max-27/mlmi-federated-learning/pkg/pubsub"
	"github.com/max-27/mlmi-federated-learning/pkg/server"
	httpserver "github.com/max-27/mlmi-federated-learning/pkg/server/http"
	"github.com/max-27/mlmi-federated-learning/pkg/storage"
	"github.com/max-27/mlmi-federated-learning/pkg/tracing"
)

const (
	svcName       = "experiments"
	defHTTPPort   = "7171"
	envPrefixHTTP = "EXPERIMENTS_HTTP_"
	pathEnv       = ".env"
)

type envConfig struct {
	LogLevel       string        `env:"EXPERIMENTS_LOG_LEVEL"      envDefault:"info"`
	InstanceID     string        `env:"EXPERIMENTS_INSTANCE_ID"`
	ArtifactsDir   string        `env:"EXPERIMENTS_ARTIFACTS_DIR"  envDefault:"artifacts"`
	CheckpointsDir string        `env:"EXPERIMENTS_CHECKPOINTS_DIR" envDefault:"artifacts/checkpoints"`
	MQTTAddress    string        `env:"EXPERIMENTS_MQTT_ADDRESS"`
	MQTTQoS        uint8         `env:"EXPERIMENTS_MQTT_QOS"       envDefault:"2"`
	MQTTTimeout    time.Duration `env:"EXPERIMENTS_MQTT_TIMEOUT"   envDefault:"30s"`
	OTELURL        url.URL       `env:"EXPERIMENTS_OTEL_URL"`
	TraceRatio     float64       `env:"EXPERIMENTS_TRACE_RATIO"    envDefault:"0"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := tracing.NewProvider(ctx, svcName, cfg.OTELURL, cfg.TraceRatio)
		if err != nil {
			logger.Error("failed to initialize opentelemetry", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := sdktp.Shutdown(ctx); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	bus := pubsub.NewNoop()
	if cfg.MQTTAddress != "" {
		mqttBus, err := pubsub.NewPubSub(cfg.MQTTAddress, cfg.MQTTQoS, cfg.InstanceID, cfg.MQTTTimeout, logger)
		if err != nil {
			logger.Error("failed to initialize mqtt pubsub", slog.String("error", err.Error()))

			return
		}
		bus = mqttBus
	}

	ckpts, err := checkpoint.NewStore(cfg.CheckpointsDir)
	if err != nil {
		logger.Error("failed to open checkpoint store", slog.String("error", err.Error()))

		return
	}

	svc := experiment.NewService(
		storage.NewInMemoryStorage(),
		ckpts,
		bus,
		cfg.ArtifactsDir,
	)
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	httpServerConfig := server.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s HTTP server configuration : %s", svcName, err.Error()))

		return
	}

	hs := httpserver.NewServer(ctx, cancel, svcName, httpServerConfig, api.MakeHandler(svc, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}
}
