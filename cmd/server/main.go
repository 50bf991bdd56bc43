package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aurelia-erp/be-approvals/internal/client"
	"github.com/aurelia-erp/be-approvals/internal/common/config"
	"github.com/aurelia-erp/be-approvals/internal/common/database"
	"github.com/aurelia-erp/be-approvals/internal/common/logger"
	"github.com/aurelia-erp/be-approvals/internal/common/middleware"
	natsclient "github.com/aurelia-erp/be-approvals/internal/common/nats"
	"github.com/aurelia-erp/be-approvals/internal/entity"
	"github.com/aurelia-erp/be-approvals/internal/handler"
	"github.com/aurelia-erp/be-approvals/internal/repository"
	"github.com/aurelia-erp/be-approvals/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// NATS is optional; without it notification events are dropped.
	var nc *natsclient.Client
	if cfg.NATS.URL != "" {
		nc, err = natsclient.Connect(natsclient.Config{
			URL:  cfg.NATS.URL,
			Name: cfg.Service.Name,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS_URL not set; notification events disabled")
	}

	// Repositories
	flowRepo := repository.NewFlowRepository(db)
	instanceRepo := repository.NewInstanceRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	delegationRepo := repository.NewDelegationRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	tenantRepo := repository.NewTenantRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Collaborators
	notifier := client.NewNotificationPublisher(nc, log.Logger)
	entities := entity.NewRegistry(db, log)

	// Services
	nodeResolver := service.NewNodeResolver(directoryRepo)
	delegationResolver := service.NewDelegationResolver(delegationRepo)
	engine := service.NewApprovalEngine(db, flowRepo, instanceRepo, taskRepo, nodeResolver, delegationResolver, auditRepo, entities, notifier, log)
	publisher := service.NewFlowPublishService(flowRepo, log)
	timeouts := service.NewTimeoutService(db, flowRepo, instanceRepo, taskRepo, tenantRepo, entities, notifier, engine, log)

	// HTTP routes
	httpHandler := handler.NewHTTPHandler(engine, publisher, timeouts, log)
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	httpHandler.Register(mux)

	var h http.Handler = mux
	h = middleware.Identity(h)
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// gRPC server (health + reflection)
	grpcServer := handler.NewGRPCServer(log)
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Background timeout sweeper
	if cfg.Sweep.Enabled {
		go runSweeper(ctx, timeouts, cfg.Sweep.Interval, log)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}

// runSweeper triggers the timeout and SLA sweeps on a fixed interval until
// the context is canceled.
func runSweeper(ctx context.Context, timeouts *service.TimeoutService, interval time.Duration, log *logger.Logger) {
	log.Info().Dur("interval", interval).Msg("Starting timeout sweeper")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Timeout sweeper stopped")
			return
		case <-ticker.C:
			result, err := timeouts.ProcessTimeouts(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Timeout sweep failed")
				continue
			}
			if result.Processed > 0 {
				log.Info().Int("processed", result.Processed).Msg("Timeout sweep completed")
			}
		}
	}
}
