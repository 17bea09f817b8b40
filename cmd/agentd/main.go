// Package main is the entry point for the agentd binary. It wires the
// session store, handler supervisor, workflow engine and stream bridge
// behind one HTTP server.
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

	"github.com/joho/godotenv"
	"github.com/majorfree/agentd/internal/server"
	"github.com/majorfree/agentd/pkg/completion"
	"github.com/majorfree/agentd/pkg/config"
	"github.com/majorfree/agentd/pkg/engine"
	"github.com/majorfree/agentd/pkg/logging"
	"github.com/majorfree/agentd/pkg/session"
	"github.com/majorfree/agentd/pkg/stream"
	"github.com/majorfree/agentd/pkg/supervisor"
	"github.com/majorfree/agentd/pkg/telemetry"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentd",
		Short: "Course-guidance agent orchestration service",
		Long: `agentd answers student questions by routing them through a graph of
capability handlers (YouTube, KOCW, web and department search), merging
their output into one answer, and streaming progress to clients while
remembering conversation history per session.`,
		RunE: runServe,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().String("env-file", ".env", "Path to env file (ignored when missing)")

	return rootCmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if envFile != "" {
		// Missing env file is fine; environment may already be set.
		_ = godotenv.Load(envFile)
	}

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing setup failed: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	metrics := telemetry.NewMetrics()

	var cache session.Cache
	if redisCache, err := session.NewRedisCache(ctx, cfg.Session, logger); err != nil {
		// The durable tier is authoritative; a missing cache costs reads,
		// not data.
		logger.Warn("session cache unavailable, running on durable tier only", "error", err)
	} else {
		cache = redisCache
		defer redisCache.Close()
	}
	history, err := session.NewPostgresHistory(cfg.Session, logger)
	if err != nil {
		return fmt.Errorf("durable session store unavailable: %w", err)
	}
	defer history.Close()
	store := session.NewStore(cache, history, logger, metrics)

	registry := supervisor.NewRegistry()
	sup := supervisor.New(registry, cfg.Supervisor, logger, metrics)
	defer sup.StopAll(context.Background())

	if cfg.Supervisor.HandlersFile != "" {
		if err := registerHandlers(ctx, cfg.Supervisor.HandlersFile, registry, sup, logger); err != nil {
			return err
		}

		watcher, err := config.NewWatcher(cfg.Supervisor.HandlersFile, func(path string) error {
			return registerHandlers(ctx, path, registry, sup, logger)
		}, logger)
		if err != nil {
			return fmt.Errorf("handler file watcher setup failed: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("handler file watcher start failed: %w", err)
		}
		defer watcher.Stop()
	}

	client := supervisor.NewClient(time.Duration(cfg.Completer.TimeoutSeconds)*time.Second, sup)
	invoker := supervisor.NewInvoker(registry, client)

	completer := completion.New(cfg.Completer.BaseURL, cfg.Completer.APIKey, cfg.Completer.Model,
		time.Duration(cfg.Completer.TimeoutSeconds)*time.Second, logger)

	eng := engine.New(completer, invoker, cfg.Engine, logger, metrics)
	bridge := stream.NewBridge(eng, store, cfg.Stream, logger, metrics)

	srv := server.New(cfg.Server, logger, metrics, eng, store, sup, bridge)
	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSecond) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// registerHandlers loads descriptors from the handlers file and starts
// any that are not yet healthy. Called at boot and on each file change.
func registerHandlers(ctx context.Context, path string, registry *supervisor.Registry, sup *supervisor.Supervisor, logger *slog.Logger) error {
	descriptors, err := supervisor.LoadDescriptors(path)
	if err != nil {
		return fmt.Errorf("failed to load handler descriptors: %w", err)
	}

	for _, d := range descriptors {
		if err := registry.Register(d); err != nil {
			logger.Warn("handler registration rejected", "handler", d.Name, "error", err)
			continue
		}
		class, err := sup.Start(ctx, d.Name)
		if err != nil {
			logger.Warn("handler start failed", "handler", d.Name, "error", err)
			continue
		}
		logger.Info("handler start attempted", "handler", d.Name, "classification", string(class))
	}
	return nil
}
