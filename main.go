package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	config "taskpilot/app/configs"
	"taskpilot/app/core/agent"
	"taskpilot/app/core/apply"
	"taskpilot/app/core/interaction/cli"
	"taskpilot/app/core/runlog"
	"taskpilot/app/core/store"
	"taskpilot/app/core/undo"
	"taskpilot/app/pkg/logger"
)

func main() {
	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	if err := logger.Init(cfg.Paths.LogDir); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Info("Taskpilot starting...")

	database, err := store.NewSQLiteDB(cfg.Paths.DataDir)
	if err != nil {
		logger.Error("Failed to initialize DB: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Database initialized")

	taskStore := store.NewStore(database)
	runLog := runlog.New(filepath.Join(cfg.Paths.LogDir, "agent"))

	transport := agent.NewHTTPTransport(
		cfg.Model.Endpoint,
		cfg.Model.APIKey,
		cfg.Model.Name,
		time.Duration(cfg.Model.TimeoutSec)*time.Second,
	)
	orchestrator := agent.NewOrchestrator(transport, runLog)

	undoStack := undo.NewStack(cfg.Task.UndoDepth, time.Duration(cfg.Task.UndoCollapseWindowSec)*time.Second)
	applier := apply.New(taskStore, undoStack)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal: %v. Shutting down...", sig)
		cancel()
	}()

	channel := cli.New(cfg.Agent.Name, orchestrator, taskStore, applier, undoStack, runLog)
	if err := channel.Run(ctx); err != nil {
		logger.Error("CLI crashed: %v", err)
		os.Exit(1)
	}
	logger.Info("Taskpilot stopped.")
}
