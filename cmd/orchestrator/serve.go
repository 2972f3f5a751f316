package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/admission"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/agents"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/api"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/config"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/logging"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/mcp"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/orchestrator"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/repository"
	"github.com/QFiSouthaven/Shunt-Factory-sub002/internal/retry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	ctx := context.Background()

	// Initialize logging
	logger := logging.NewLogger()

	// Load configuration
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		return err
	}

	logger.Info("Starting Workflow Orchestrator Service")

	// Initialize database connection
	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database: %v", err)
		return err
	}
	defer dbPool.Close()

	logger.Info("Database connected")

	// Initialize repository layer
	store := repository.NewPostgresWorkflowStore(dbPool)

	// Initialize agent clients
	timeout := cfg.Agents.RequestTimeout
	delegator := agents.NewHTTPDelegator(cfg.Agents.DelegatorURL, timeout)
	processor := agents.NewHTTPProcessor(cfg.Agents.ProcessorURL, timeout)
	reviewer := agents.NewHTTPReviewer(cfg.Agents.ReviewerURL, timeout, logger)

	// Pipeline wiring
	policy := retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, logger)
	pipeline := orchestrator.New(store, delegator, processor, reviewer, policy, logger, orchestrator.Options{
		AgreementThreshold:  cfg.Pipeline.AgreementThreshold,
		MaxRefinementRounds: cfg.Pipeline.MaxRefinementRounds,
		ComplexActions:      cfg.Pipeline.ComplexActions,
	})
	query := orchestrator.NewQueryService(store)
	gate := admission.NewGate(cfg.Admission.Window, cfg.Admission.Limit)

	logger.Info("Pipeline wired, delegator=%s processor=%s reviewer=%s",
		cfg.Agents.DelegatorURL, cfg.Agents.ProcessorURL, cfg.Agents.ReviewerURL)

	// Create Echo server
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("workflow-orchestrator"))

	// Mount REST API handlers
	handler := api.NewHandler(pipeline, query, gate, store, logger)
	api.RegisterRoutes(e, handler)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(pipeline, query)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server. The pipeline runs synchronously inside the
	// submission request, so the write timeout must outlast a full run.
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting on %s", cfg.Server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
			return err
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received: %v", sig)

		// Create shutdown context with timeout
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error: %v", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}

	return nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
