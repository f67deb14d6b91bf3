package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"relay/internal/assemble"
	"relay/internal/config"
	"relay/internal/gateway"
	"relay/internal/idempotency"
	"relay/internal/llm"
	"relay/internal/logging"
	httpserver "relay/internal/server/http"
	"relay/internal/store"
	"relay/internal/tools"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "relay-server",
		Short: "Idempotent action-dispatch gateway for LLM-driven CRM actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "relay-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.NewComponentLogger("relay-server")

	server, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func buildServer(cfg *config.Config, logger logging.Logger) (*httpserver.Server, error) {
	// The in-memory store backs records, audit, and the directory in a
	// single-process deployment. Idempotency claims move to Redis as soon as
	// an address is configured, since that is the piece that must be shared
	// across replicas.
	memory := store.NewMemory()

	var idemStore idempotency.Store
	if cfg.Idempotency.RedisAddr != "" {
		idemStore = idempotency.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     cfg.Idempotency.RedisAddr,
			Password: cfg.Idempotency.RedisPassword,
			DB:       cfg.Idempotency.RedisDB,
		}))
		logger.Info("idempotency store: redis at %s", cfg.Idempotency.RedisAddr)
	} else {
		idemStore = idempotency.NewMemoryStore()
		logger.Warn("idempotency store: in-memory, claims are not shared across replicas")
	}

	coordinator := idempotency.NewCoordinator(idemStore, idempotency.Options{
		DefaultTTL:   cfg.Idempotency.DefaultTTL,
		PollInterval: cfg.Idempotency.PollInterval,
		PollAttempts: cfg.Idempotency.PollAttempts,
	}, logging.NewComponentLogger("idempotency"))

	registry, err := tools.DefaultRegistry(tools.Deps{
		Records:   memory,
		Directory: memory,
		Audit:     memory,
		Logger:    logging.NewComponentLogger("tools"),
	})
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}
	router := tools.NewRouter(registry, coordinator, cfg.MaxToolCallsPerTurn,
		cfg.Idempotency.DefaultTTL, logging.NewComponentLogger("router"))

	assembler, err := assemble.New(memory, cfg.ContextRecordLimit, logging.NewComponentLogger("assemble"))
	if err != nil {
		return nil, fmt.Errorf("build context assembler: %w", err)
	}

	client, err := llm.NewClient(llm.Config{
		BaseURL:       cfg.Provider.BaseURL,
		APIKey:        cfg.Provider.APIKey,
		Model:         cfg.Provider.Model,
		MaxTokens:     cfg.Provider.MaxTokens,
		Timeout:       cfg.Provider.Timeout,
		StreamTimeout: cfg.Provider.StreamTimeout,
	}, logging.NewComponentLogger("llm"))
	if err != nil {
		return nil, err
	}

	gw := gateway.New(client, router, assembler, registry.Schemas(), memory,
		nil, logging.NewComponentLogger("gateway"))

	return httpserver.NewServer(cfg, gw, logging.NewComponentLogger("http")), nil
}
