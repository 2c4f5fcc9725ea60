// Command swarmflow dispatches a one-shot request or dry-runs a workflow
// file against the engine.
//
// Usage:
//
//	swarmflow -agents ./agents -request "restart the api server"
//	swarmflow -agents ./agents -workflow deploy.yaml
//	swarmflow -config swarmflow.yaml -request "..." -session abc123
//
// Without real agent backends wired in, every registered descriptor is
// served by a local echo agent, which makes the command useful for
// validating descriptors, workflow definitions and routing behavior.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	swarmflow "github.com/velsin/swarmflow"
	"github.com/velsin/swarmflow/config"
	"github.com/velsin/swarmflow/coordinator"
	"github.com/velsin/swarmflow/orchestrator"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	agentsDir := flag.String("agents", "", "agent descriptor directory (overrides config)")
	workflowPath := flag.String("workflow", "", "workflow file to execute")
	request := flag.String("request", "", "one-shot request text")
	sessionID := flag.String("session", "", "session id to resume")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("swarmflow %s\n", version)
		return
	}
	if *workflowPath == "" && *request == "" {
		fmt.Fprintln(os.Stderr, "one of -workflow or -request is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *agentsDir != "" {
		cfg.Registry.Dir = *agentsDir
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *workflowPath, *request, *sessionID); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, workflowPath, request, sessionID string) error {
	engine, err := swarmflow.New(cfg, swarmflow.WithLogger(logger))
	if err != nil {
		return err
	}
	defer engine.Close(context.Background())

	// Serve every known descriptor with a local echo agent.
	for _, id := range engine.Registry.IDs() {
		engine.RegisterAgent(echoAgent{id: id})
	}

	if workflowPath != "" {
		def, err := orchestrator.LoadWorkflow(workflowPath)
		if err != nil {
			return err
		}
		// Echo agents still need registration for workflow-only runs.
		for _, st := range def.Subtasks {
			if st.Agent != "" {
				engine.RegisterAgent(echoAgent{id: st.Agent})
			}
		}
		exec, err := engine.ExecuteWorkflow(ctx, def, nil)
		if err != nil {
			return err
		}
		return printJSON(exec)
	}

	res, err := engine.Handle(ctx, coordinator.Request{
		SessionID: sessionID,
		Text:      request,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
