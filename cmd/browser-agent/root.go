package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chenpu17/ai-browser/internal/browser"
	"github.com/chenpu17/ai-browser/internal/config"
	"github.com/chenpu17/ai-browser/internal/llm"
	"github.com/chenpu17/ai-browser/internal/logging"
	"github.com/chenpu17/ai-browser/internal/memory"
	"github.com/chenpu17/ai-browser/internal/observability"
	"github.com/chenpu17/ai-browser/internal/semantic"
	"github.com/chenpu17/ai-browser/internal/server"
	"github.com/chenpu17/ai-browser/internal/task"
	"github.com/chenpu17/ai-browser/internal/tools"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "browser-agent",
		Short:         "LLM-driven autonomous browsing agent platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	root.AddCommand(serve)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("browser-agent " + version)
		},
	})

	return root
}

var version = "dev"

func runServe(parent context.Context, cfg *config.Config) error {
	logger := logging.NewComponentLogger("server")

	manager := browser.NewManager(browser.Config{
		ChromePath:      cfg.Browser.ChromePath,
		UserDataDir:     cfg.Browser.UserDataDir,
		CookieFile:      cfg.Browser.CookieFile,
		MaxTabs:         cfg.Browser.MaxTabs,
		NavigateTimeout: cfg.Browser.NavigateTimeout,
		StabilityQuiet:  cfg.Browser.StabilityQuiet,
		SessionTTL:      cfg.Browser.SessionTTL,
	}, logging.NewComponentLogger("browser"))

	client, err := llm.NewOpenAIClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})
	if err != nil {
		return err
	}

	collector := semantic.Resolve()
	bus := tools.NewBus(manager, collector, logging.NewComponentLogger("tools"))
	memories := memory.NewCardStore(cfg.Memory.Dir, logging.NewComponentLogger("memory"))
	metrics := observability.New()
	bus.SetObserver(metrics.ToolExecuted)
	instrumented := observability.WrapLLM(client, metrics)

	runs := task.NewRunManager(task.ManagerConfig{
		MaxConcurrent: cfg.Task.MaxConcurrentRuns,
		RunTimeout:    cfg.Task.RunTimeout,
		RunTTL:        cfg.Task.RunTTL,
		ArtifactTTL:   cfg.Task.ArtifactTTL,
	}, logging.NewComponentLogger("task"))

	taskLogger := logging.NewComponentLogger("task")
	planner := task.NewPlanner(instrumented, taskLogger)
	templates := task.NewTemplates(manager, collector, taskLogger)

	srv := server.New(server.Options{
		Config:   cfg,
		Manager:  manager,
		Runs:     runs,
		Memories: memories,
		Metrics:  metrics,
		Client:   instrumented,
		Bus:      bus,
		Logger:   logger,
	})
	runner := task.NewRunner(planner, templates, srv, taskLogger)
	srv.SetRunner(runner)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = srv.Run(ctx)

	shutdownCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runs.Shutdown()
	manager.Shutdown(shutdownCtx)
	return err
}
