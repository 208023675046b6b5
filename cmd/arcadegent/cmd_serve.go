package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/arcadegent/internal/arcade"
	"github.com/user/arcadegent/internal/eventlog"
	"github.com/user/arcadegent/internal/orchestrator"
	"github.com/user/arcadegent/internal/prompt"
	"github.com/user/arcadegent/internal/server"
	"github.com/user/arcadegent/internal/state"
	"github.com/user/arcadegent/internal/telegram"
	"github.com/user/arcadegent/internal/tools"
	"github.com/user/arcadegent/pkg/llm"
	"github.com/user/arcadegent/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the arcadegent service",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Stores
	sessions := state.NewSessionStore(cfg.DataDir)
	events := eventlog.New(cfg.DataDir)

	// Arcade catalog
	shops, err := arcade.NewFromJSONL(cfg.ArcadeDataPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("arcade data unavailable, starting with an empty catalog",
				"path", cfg.ArcadeDataPath, "error", err)
		}
		shops = arcade.NewEmpty()
	} else {
		stats := shops.Stats()
		slog.Info("arcade catalog loaded",
			"path", cfg.ArcadeDataPath,
			"rows", stats.LoadedRows,
			"bad_lines", stats.BadLines,
		)
	}

	// LLM provider (optional: without a key the tools use their
	// deterministic fallbacks)
	var provider llm.Provider
	var prompts *prompt.Builder
	if cfg.LLM.APIKey != "" {
		provider = openai.New(&llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		})
		prompts, err = prompt.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
		if err != nil {
			return fmt.Errorf("create prompt builder: %w", err)
		}
	} else {
		slog.Warn("llm disabled (no api key), using template replies")
	}

	// AMap client (optional: without a key routes are offline estimates)
	amap := tools.NewAMapClient(cfg.AMap.APIKey, cfg.AMap.BaseURL,
		time.Duration(cfg.AMap.TimeoutSeconds)*time.Second)
	if amap == nil {
		slog.Warn("amap disabled (no api key), routes use offline estimates")
	}

	// Tool registry
	registry := tools.NewRegistry()
	registry.Register(tools.NewSearchTool(shops))
	if amap != nil {
		registry.Register(tools.NewGeoResolveTool(shops, amap))
		registry.Register(tools.NewRoutePlanTool(amap))
	} else {
		registry.Register(tools.NewGeoResolveTool(shops, nil))
		registry.Register(tools.NewRoutePlanTool(nil))
	}
	registry.Register(tools.NewSummarizeTool(provider))
	registry.Register(tools.NewSelectStageTool(provider))

	dispatcher := tools.NewDispatcher(registry, events,
		time.Duration(cfg.ToolTimeoutSecs)*time.Second)

	// Orchestrator
	runner := orchestrator.New(sessions, events, dispatcher, prompts,
		cfg.MaxConcurrent, cfg.MaxSteps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event retention sweeper
	sweeper := eventlog.NewSweeper(events,
		time.Duration(cfg.RetentionMinutes)*time.Minute)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start retention sweeper: %w", err)
	}
	defer sweeper.Stop()

	// HTTP server
	srv := server.NewServer(runner, sessions, events, shops,
		time.Duration(cfg.SSE.KeepaliveSeconds)*time.Second,
		time.Duration(cfg.SSE.MaxWaitSeconds)*time.Second)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv,
	}
	go func() {
		slog.Info("http server started", "listen", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, runner, sessions)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	slog.Info("arcadegent started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"max_steps", cfg.MaxSteps,
		"llm_model", cfg.LLM.Model,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
	return nil
}
