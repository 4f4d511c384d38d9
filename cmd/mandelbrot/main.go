package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mandelbrot-dist/internal/app"
	"mandelbrot-dist/internal/domain"
	"mandelbrot-dist/internal/infrastructure"
	"mandelbrot-dist/internal/transport"
	"mandelbrot-dist/internal/wire"
	"mandelbrot-dist/pkg/escape"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const dialRetry = time.Second

func main() {
	configPath := flag.String("config", infrastructure.DefaultConfigPath, "Path to config file")
	flags := infrastructure.BindFlags(flag.CommandLine)
	flag.Parse()

	logger := initLogger("info")

	configReader := infrastructure.NewYAMLConfigReader(logger, flags)
	config, err := configReader.ReadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to read config", zap.Error(err))
	}

	// Reconfigure with the requested level and destination
	logger = initLogger(config.LogLevel, config.LogFile)
	defer logger.Sync()

	if err := config.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	switch config.Mode {
	case domain.ModeWorker:
		err = runWorker(ctx, logger, config)
	default:
		err = runCoordinator(ctx, logger, config)
	}
	if err != nil {
		logger.Fatal("Run failed", zap.String("mode", config.Mode), zap.Error(err))
	}

	logger.Info("Completed successfully", zap.String("mode", config.Mode))
}

// runCoordinator renders the image either with in-process workers (local
// mode) or with worker processes connecting over TCP.
func runCoordinator(ctx context.Context, logger *zap.Logger, config *domain.Config) error {
	p, err := config.Problem()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	sink := buildSinks(logger, config, p, registry)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, finish := context.WithCancel(gctx)
	defer finish()

	if config.MetricsAddr != "" {
		registry.MustRegister(collectors.NewGoCollector())
		g.Go(func() error {
			return infrastructure.ServeMetrics(runCtx, logger, config.MetricsAddr, registry)
		})
	}

	g.Go(func() error {
		defer finish()
		if config.Mode == domain.ModeLocal {
			runner := app.NewLocalRunner(logger, config.Workers, escape.NewRowComputer(config.Threads), sink, config.Compress)
			_, err := runner.RunRepeated(runCtx, p, config.Repeat)
			return err
		}
		return runDistributed(runCtx, logger, config, p, sink)
	})

	return g.Wait()
}

func runDistributed(ctx context.Context, logger *zap.Logger, config *domain.Config, p domain.Problem, sink domain.Sink) error {
	ep, err := transport.Listen(ctx, logger, config.Listen, config.Workers)
	if err != nil {
		return err
	}
	defer ep.Close()

	codec, err := wire.NewCodec(config.Compress)
	if err != nil {
		return err
	}
	defer codec.Close()

	coordinator := app.NewCoordinator(logger, wire.NewMessenger(ep, codec), sink)
	_, err = coordinator.Run(ctx, p)
	return err
}

func runWorker(ctx context.Context, logger *zap.Logger, config *domain.Config) error {
	ep, err := transport.Dial(ctx, logger, config.Connect, dialRetry)
	if err != nil {
		return err
	}
	defer ep.Close()

	codec, err := wire.NewCodec(false)
	if err != nil {
		return err
	}
	defer codec.Close()

	worker := app.NewWorker(logger, wire.NewMessenger(ep, codec), escape.NewRowComputer(config.Threads))
	return worker.Run(ctx)
}

func buildSinks(logger *zap.Logger, config *domain.Config, p domain.Problem, registry prometheus.Registerer) domain.Sink {
	sinks := infrastructure.MultiSink{infrastructure.NewLogSink(logger)}
	if config.CSVFile != "" {
		sinks = append(sinks, infrastructure.NewCSVMetricsWriter(logger, config.CSVFile))
	}
	if config.PBMFile != "" {
		sinks = append(sinks, infrastructure.NewPBMFileWriter(logger, config.PBMFile, p.Width, p.Height))
	}
	if config.PNGFile != "" {
		sinks = append(sinks, infrastructure.NewPNGFileWriter(logger, config.PNGFile, p.Width, p.Height))
	}
	if config.MetricsAddr != "" {
		sinks = append(sinks, infrastructure.NewPrometheusSink(registry))
	}
	return sinks
}

// initLogger initializes the logger with the specified level and log file name.
// Without a file name logs go to stderr.
func initLogger(level string, logfileName ...string) *zap.Logger {
	config := zap.NewProductionConfig()

	switch level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	outputPath := []string{"stderr"}
	for _, item := range logfileName {
		if item != "" {
			outputPath = append(outputPath, item)
		}
	}

	config.OutputPaths = outputPath
	config.ErrorOutputPaths = outputPath
	config.EncoderConfig.TimeKey = "t"
	config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	config.DisableCaller = false

	logger, err := config.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}
