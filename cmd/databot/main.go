// Package main is the entry point for databot, the periodic metrics
// collection agent. It loads the configuration, builds the DataBot and runs
// it either as a Windows service or as a foreground process until it is
// interrupted or reaches its execution bound.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/Guliveer/databot/internal/config"
	"github.com/Guliveer/databot/internal/databot"
	"github.com/Guliveer/databot/internal/httpserver"
	"github.com/Guliveer/databot/internal/service"
	"github.com/Guliveer/databot/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	var (
		configPath    = pflag.StringP("config", "c", "", "Path to configuration file (.yaml or .properties)")
		showVersion   = pflag.Bool("version", false, "Show version and exit")
		logLevel      = pflag.String("log-level", "", "Log level (debug, info, warn, error)")
		maxExecutions = pflag.Int("max-executions", 0, "Stop after this many collection runs (0 means unlimited)")
		writeConfig   = pflag.String("write-config", "", "Write the effective configuration to this path and exit")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Printf("databot %s\n", version)
		os.Exit(0)
	}

	cli := config.CLIOverrides{LogLevel: *logLevel}
	if pflag.CommandLine.Changed("max-executions") {
		cli.MaxExecutions = maxExecutions
	}

	var (
		cfg *config.Config
		err error
	)
	if pflag.CommandLine.Changed("config") {
		cfg, err = config.LoadLayered(cli, embeddedConfig, *configPath)
	} else {
		cfg, err = config.LoadLayered(cli, embeddedConfig)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *writeConfig != "" {
		if err := config.WriteConfig(cfg, *writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration written to %s\n", *writeConfig)
		os.Exit(0)
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting databot",
		zap.String("version", version),
		zap.Duration("interval", cfg.Collection.Interval.Duration),
		zap.Int("max_executions", cfg.Collection.MaxExecutions))

	metrics := telemetry.New()
	bot, err := databot.New(cfg, logger, databot.WithMetrics(metrics))
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	run := func(ctx context.Context) error {
		return runDataBot(ctx, cfg, bot, metrics, logger)
	}

	if service.IsWindowsService() {
		logger.Info("Running as Windows service")
		if err := service.New(logger, run).Run(); err != nil {
			logger.Fatal("Service failed", zap.Error(err))
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Error("databot stopped with errors", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("databot stopped")
}

// runDataBot runs the DataBot and, when configured, the status API. It
// returns when the DataBot has stopped.
func runDataBot(ctx context.Context, cfg *config.Config, bot *databot.DataBot, metrics *telemetry.Metrics, logger *zap.Logger) error {
	var api *httpserver.Server
	if cfg.API.Listen != "" {
		api = httpserver.NewServer(cfg.API.Listen, bot, metrics.Registry(), logger.Named("api"))
		if err := api.Start(); err != nil {
			return fmt.Errorf("start status API: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(gctx)
	})
	if api != nil {
		g.Go(func() error {
			<-bot.Done()
			return api.Stop()
		})
	}
	return g.Wait()
}

// initLogger creates a zap logger based on the configuration. It writes
// human-readable output to stderr, keeping stdout free for CSV output, and
// optionally JSON lines to a log file.
func initLogger(cfg *config.Config) *zap.Logger {
	var level zapcore.Level
	switch cfg.Logging.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		level,
	)

	cores := []zapcore.Core{consoleCore}

	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			fileCore := zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			)
			cores = append(cores, fileCore)
		}
	}

	return zap.New(zapcore.NewTee(cores...)).Named("databot")
}
