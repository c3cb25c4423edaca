// debateflow runs multi-party LLM debates.
//
// Usage:
//
//	debateflow run --config debate.yaml        # run a debate
//	debateflow run --config debate.yaml --resume <run-id>
//	debateflow version
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/debateflow/checkpoint"
	"github.com/BaSui01/debateflow/config"
	"github.com/BaSui01/debateflow/gateway"
	intmetrics "github.com/BaSui01/debateflow/internal/metrics"
	"github.com/BaSui01/debateflow/internal/server"
	"github.com/BaSui01/debateflow/scheduler"
	"github.com/BaSui01/debateflow/types"
)

// Version information, injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runDebate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runDebate(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (YAML)")
	resume := fs.String("resume", "", "Resume the given run ID from its latest checkpoint")
	quiet := fs.Bool("quiet", false, "Suppress transcript output on stdout")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting debateflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	registry := prometheus.NewRegistry()
	collector := intmetrics.NewCollector("debateflow", registry, logger)

	gw := gateway.NewClient(cfg.Gateway, logger, gateway.WithCollector(collector))

	opts := []scheduler.Option{scheduler.WithCollector(collector)}
	if cfg.Checkpoint.Enabled {
		store, err := checkpoint.New(cfg.Checkpoint, logger)
		if err != nil {
			logger.Fatal("failed to open checkpoint store", zap.Error(err))
		}
		defer store.Close()
		opts = append(opts, scheduler.WithCheckpointStore(store))
	}
	if *resume != "" {
		opts = append(opts, scheduler.WithResume(*resume))
	}

	sched, err := scheduler.New(cfg, gw, logger, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	hub := server.NewBroadcaster(logger)
	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg.Server, hub, registry, logger)
		if err := srv.Start(); err != nil {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		for ev := range sched.Events() {
			hub.Publish(ev)
			if !*quiet {
				printEvent(ev)
			}
		}
	}()

	state, runErr := sched.Run(ctx)
	<-pumped
	hub.Close()
	if srv != nil {
		srv.Shutdown(context.Background())
	}

	if runErr != nil {
		logger.Error("run failed", zap.Error(runErr))
		os.Exit(1)
	}
	if !*quiet && state.Conclusion != nil {
		fmt.Println("\n=== Conclusion ===")
		fmt.Println(state.Conclusion.Final)
	}
	logger.Info("debateflow finished",
		zap.String("run_id", state.RunID),
		zap.Int("turns", state.CurrentTurn),
	)
}

// printEvent renders the live transcript on stdout; chunks stream in
// place, everything else gets its own line.
func printEvent(ev types.Event) {
	switch ev.Type {
	case types.EventAgentMessageChunk:
		fmt.Print(ev.Chunk)
	case types.EventAgentMessageComplete:
		fmt.Printf("\n[Turn %d] %s%s\n", ev.Turn, ev.Agent, degradedSuffix(ev))
	case types.EventFacilitatorAction:
		if ev.Text != "" {
			fmt.Printf("\n[Facilitator] %s\n", ev.Text)
		}
	case types.EventDraftConclusion:
		fmt.Println("\n=== Draft conclusion ===")
		fmt.Println(ev.Text)
	case types.EventPeerComment:
		fmt.Printf("\n[Comment] %s: %s\n", ev.Agent, ev.Text)
	case types.EventRunError:
		fmt.Fprintf(os.Stderr, "\nrun error: %v\n", ev.Err)
	}
}

func degradedSuffix(ev types.Event) string {
	if ev.Degraded {
		return " (degraded)"
	}
	return ""
}

func printVersion() {
	fmt.Printf("debateflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`debateflow - multi-party LLM debate orchestration

Usage:
  debateflow <command> [options]

Commands:
  run       Run a debate
  version   Show version information
  help      Show this help message

Options for 'run':
  --config <path>   Path to configuration file (YAML)
  --resume <id>     Resume a run from its latest checkpoint
  --quiet           Suppress transcript output on stdout

Examples:
  debateflow run --config debate.yaml
  debateflow run --config debate.yaml --resume 9f2c41d8-...
  debateflow version`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var zapOpts []zap.Option
	if cfg.EnableCaller {
		zapOpts = append(zapOpts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		zapOpts = append(zapOpts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(zapOpts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
