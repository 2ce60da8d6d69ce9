package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/1003xuexue/mobile-ai-bench/internal/adb"
	"github.com/1003xuexue/mobile-ai-bench/internal/build"
	"github.com/1003xuexue/mobile-ai-bench/internal/catalog"
	"github.com/1003xuexue/mobile-ai-bench/internal/command"
	"github.com/1003xuexue/mobile-ai-bench/internal/config"
	"github.com/1003xuexue/mobile-ai-bench/internal/devlock"
	"github.com/1003xuexue/mobile-ai-bench/internal/fetch"
	"github.com/1003xuexue/mobile-ai-bench/internal/history"
	"github.com/1003xuexue/mobile-ai-bench/internal/model"
	"github.com/1003xuexue/mobile-ai-bench/internal/monitor"
	"github.com/1003xuexue/mobile-ai-bench/internal/report"
	"github.com/1003xuexue/mobile-ai-bench/internal/runlog"
	"github.com/1003xuexue/mobile-ai-bench/internal/scheduler"
	"github.com/1003xuexue/mobile-ai-bench/internal/stage"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Core collaborators around the device bridge.
	runner := command.NewExecRunner(logger)
	bridge := adb.NewClient(runner, logger)
	registry := adb.NewRegistry(bridge, logger)
	locks := devlock.NewManager(cfg.Lock.Dir, logger)
	stager := stage.NewStager(bridge, logger)
	env := stage.NewEnvironment(stager, bridge, stage.Paths{NDKHome: cfg.Build.NDKHome}, logger)

	cat, err := catalog.Load(cfg.Benchmark.ConfigFile)
	if err != nil {
		logger.Fatal("Failed to load benchmark catalog", zap.Error(err))
	}
	filters, err := catalog.ParseFilters(cfg.Benchmark.Executors, cfg.Benchmark.Models, cfg.Benchmark.DeviceTypes)
	if err != nil {
		logger.Fatal("Failed to parse benchmark filters", zap.Error(err))
	}
	option, err := model.ParseBenchmarkOption(cfg.Benchmark.Option)
	if err != nil {
		logger.Fatal("Invalid benchmark option", zap.Error(err))
	}

	var s3 *minio.Client
	if cfg.S3.Enabled {
		s3, err = minio.New(cfg.S3.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.S3.AccessKey, cfg.S3.SecretKey, ""),
			Secure: cfg.S3.UseSSL,
		})
		if err != nil {
			logger.Fatal("Failed to create S3 client", zap.Error(err))
		}
	}
	fetcher := fetch.NewFetcher(runner, s3, cfg.Benchmark.CacheDir, logger)

	var observers scheduler.MultiObserver

	var store history.Store
	if cfg.History.Enabled {
		sqlStore, err := history.NewSQLiteStore(logger, cfg.History.Path)
		if err != nil {
			logger.Fatal("Failed to open history database", zap.Error(err))
		}
		defer sqlStore.Close()
		store = sqlStore
		observers = append(observers, history.NewRecorder(store, logger))
	}

	var js nats.JetStreamContext
	if cfg.NATS.Enabled {
		nc, err := connectNATS(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
		}
		defer nc.Close()
		logger.Info("Connected to NATS successfully", zap.String("url", nc.ConnectedUrl()))

		js, err = nc.JetStream()
		if err != nil {
			logger.Fatal("Failed to create JetStream context", zap.Error(err))
		}
		reporter, err := report.NewReporter(js, logger)
		if err != nil {
			logger.Fatal("Failed to create reporter", zap.Error(err))
		}
		observers = append(observers, reporter)
	}

	deps := scheduler.Deps{
		Bridge:   bridge,
		Stager:   stager,
		Env:      env,
		Locks:    locks,
		Runner:   runner,
		Observer: observers,
		Out:      os.Stdout,
		Logger:   logger,
	}
	var logs *runlog.Manager
	if cfg.Logs.Enabled {
		if logs, err = runlog.NewManager(cfg.Logs.Dir, cfg.Logs.MaxAge, logger); err != nil {
			logger.Fatal("Failed to create log manager", zap.Error(err))
		}
		logs.Start()
		defer logs.Stop()
		deps.Logs = logs
	}
	var hostMonitor scheduler.HostMonitor
	collector := monitor.NewCollector(js, cfg.Monitor.Interval, logger)
	if cfg.Monitor.Enabled {
		hostMonitor = collector
	}
	orch := scheduler.NewOrchestrator(registry, deps, hostMonitor, logger)

	bazelBuilder := build.NewBazelBuilder(runner, bridge, locks, logger)
	var dockerBuilder *build.DockerBuilder
	if cfg.Build.Docker {
		if dockerBuilder, err = build.NewDockerBuilder(cfg.Build.DockerImage, cfg.Build.Workspace, logger); err != nil {
			logger.Fatal("Failed to create docker builder", zap.Error(err))
		}
	}

	// Setup signal handling for graceful shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if cfg.History.Enabled && cfg.History.Retention > 0 {
		if err := store.DeleteBefore(ctx, time.Now().Add(-cfg.History.Retention)); err != nil {
			logger.Warn("Failed to prune old history", zap.Error(err))
		}
	}
	if cfg.Monitor.Enabled && js != nil {
		if err := collector.Start(ctx); err != nil {
			logger.Warn("Failed to start host monitor", zap.Error(err))
		} else {
			defer collector.Stop()
		}
	}

	buildFor := func(ctx context.Context, abi string, plan *catalog.Plan) (string, string, error) {
		opts := build.Options{
			Target:      cfg.Build.Target,
			ABI:         abi,
			Executors:   plan.Executors,
			DeviceTypes: plan.DeviceTypes,
			NDKHome:     cfg.Build.NDKHome,
		}
		if dockerBuilder == nil {
			return bazelBuilder.Build(ctx, os.Stdout, firstSerial(ctx, registry, cfg.Benchmark.TargetSoCs), opts)
		}

		// The container cannot reach the device, so probe from here.
		enableDSP := false
		if serial := firstSerial(ctx, registry, cfg.Benchmark.TargetSoCs); serial != "" && build.WantsDSP(opts) {
			ok, err := build.DeviceHasHexagon(ctx, bridge, locks, logger, serial)
			if err != nil {
				return "", "", err
			}
			enableDSP = ok
		}
		return dockerBuilder.Build(ctx, os.Stdout, opts, enableDSP)
	}

	// One sweep fetches the plan once, then builds and runs per target ABI.
	runSweep := func(ctx context.Context) error {
		if err := os.MkdirAll(cfg.Benchmark.CacheDir, 0o755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
		plan, err := catalog.BuildPlan(ctx, cat, filters, fetcher, cfg.Benchmark.CacheDir)
		if err != nil {
			return err
		}
		logger.Info("Benchmark plan ready",
			zap.Int("jobs", len(plan.Jobs)),
			zap.Int("artifacts", len(plan.PushList)))

		datasetDir := cfg.Benchmark.DatasetDir
		if option == model.OptionPrecision && datasetDir != "" {
			if datasetDir, err = fetcher.PrepareDataset(ctx, cfg.Benchmark.DatasetDir, cfg.Benchmark.DatasetChecksum); err != nil {
				return err
			}
		}

		for _, abi := range cfg.Benchmark.TargetABIs {
			binDir, binName, err := buildFor(ctx, abi, plan)
			if err != nil {
				return err
			}

			summary, err := orch.Run(ctx, plan, scheduler.Params{
				ABI:            abi,
				BinDir:         binDir,
				BinName:        binName,
				Option:         option,
				DatasetDir:     datasetDir,
				RunInterval:    cfg.Benchmark.RunInterval,
				NumThreads:     cfg.Benchmark.NumThreads,
				MaxTimePerLock: cfg.Benchmark.MaxTimePerLock,
				RemoteDir:      cfg.Benchmark.RemoteDir,
				OutputDir:      cfg.Benchmark.OutputDir,
				LockTimeout:    cfg.Lock.Timeout,
			}, cfg.Benchmark.TargetSoCs)
			if err != nil {
				return err
			}

			logger.Info("Fleet sweep finished",
				zap.String("abi", abi),
				zap.String("run_id", summary.RunID),
				zap.String("status", string(summary.Status)))
			for _, dev := range summary.Devices {
				if dev.Error != "" {
					logger.Warn("Device run failed",
						zap.String("serial", dev.Serial),
						zap.String("error", dev.Error))
					continue
				}
				logger.Info("Result ready",
					zap.String("serial", dev.Serial),
					zap.String("path", dev.ResultPath))
			}
		}
		return nil
	}

	if cfg.Schedule.Enabled {
		periodic := scheduler.NewPeriodicRunner(logger)
		if err := periodic.Schedule(cfg.Schedule.Expression, func() {
			if err := runSweep(ctx); err != nil {
				logger.Error("Scheduled sweep failed", zap.Error(err))
			}
		}); err != nil {
			logger.Fatal("Failed to schedule periodic runs", zap.Error(err))
		}
		periodic.Start()
		logger.Info("Running on schedule", zap.String("expression", cfg.Schedule.Expression))

		<-ctx.Done()
		periodic.Stop()
		logger.Info("Runner shutting down gracefully")
		return
	}

	if err := runSweep(ctx); err != nil {
		logger.Fatal("Benchmark sweep failed", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// connectNATS dials with retries and reconnect handlers wired to the logger.
func connectNATS(cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(30 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var (
		nc  *nats.Conn
		err error
	)
	urls := strings.Join(cfg.NATS.URLs, ",")
	for attempt := 1; attempt <= 5; attempt++ {
		if nc, err = nats.Connect(urls, opts...); err == nil {
			return nc, nil
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", attempt),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(attempt))
	}
	return nil, err
}

// firstSerial returns one connected device for the DSP probe, or empty when
// none match.
func firstSerial(ctx context.Context, registry *adb.Registry, targetSoCs []string) string {
	devices, err := registry.Select(ctx, targetSoCs)
	if err != nil || len(devices) == 0 {
		return ""
	}
	return devices[0].Serial
}
