package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/healthflow/healthflow/internal/config"
	"github.com/healthflow/healthflow/internal/domain/dispense"
	"github.com/healthflow/healthflow/internal/domain/prescription"
	"github.com/healthflow/healthflow/internal/domain/submission"
	syncjob "github.com/healthflow/healthflow/internal/domain/sync"
	"github.com/healthflow/healthflow/internal/platform/db"
	"github.com/healthflow/healthflow/internal/platform/ehr"
	"github.com/healthflow/healthflow/internal/platform/hl7v2"
	"github.com/healthflow/healthflow/internal/platform/middleware"
	"github.com/healthflow/healthflow/internal/platform/ncpdp"
	"github.com/healthflow/healthflow/internal/platform/queue"
	"github.com/healthflow/healthflow/pkg/rxerr"
	"github.com/healthflow/healthflow/pkg/rxmodel"
)

// drainInterval is how often the inbound queue is swept between MLLP bursts.
const drainInterval = 5 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "healthflow-server",
		Short: "Prescription exchange and synchronization server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the prescription exchange server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	// migrate down - keep as warning
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Use Atlas CLI for migration rollback: atlas schema apply --dir migrations/")
			return nil
		},
	})

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	repo := prescription.NewRepo(pool)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit("1MB", "8MB"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.Audit(logger))

	// API group
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Submission gateway. Prescriptions without a target pharmacy are stored
	// for later retrieval, so the gateway runs without a forwarder here.
	gateway := submission.NewGateway(repo, nil, logger)
	gateway.SetNCPDPCodec(ncpdp.NewCodec(nil))
	submission.NewHandler(gateway).RegisterRoutes(apiV1)

	// Pharmacy retrieval and dispensing
	dispenseSvc := dispense.NewService(repo, logger)
	dispense.NewHandler(dispenseSvc).RegisterRoutes(apiV1)

	// EHR connectors and sync scheduler
	integration := ehr.NewIntegrationService(logger)
	registerConnectors(cfg, integration, logger)
	ehr.NewHandler(integration).RegisterRoutes(apiV1)

	sched := syncjob.NewScheduler(integration, logger)
	sched.SetDefaultMaxAttempts(cfg.SyncMaxAttempts)
	syncjob.NewHandler(sched, repo).RegisterRoutes(apiV1)

	// Inbound message queue
	inbox := queue.NewMessageQueue()
	apiV1.GET("/queue/stats", func(c echo.Context) error {
		return c.JSON(http.StatusOK, inbox.Stats())
	})

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go drainLoop(bgCtx, inbox, gateway, cfg.QueueWorkers, logger)
	go syncLoop(bgCtx, sched, cfg.SyncInterval, cfg.SyncWorkers, logger)

	// HL7v2 MLLP TCP listener
	if cfg.MLLPEnabled {
		mllpServer := hl7v2.NewMLLPServer(cfg.MLLPAddr, mllpHandler(inbox, logger), logger)
		go func() {
			if err := mllpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("MLLP server failed")
			}
		}()
		defer mllpServer.Stop()
		logger.Info().Str("addr", cfg.MLLPAddr).Msg("MLLP server started")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// registerConnectors wires every EHR whose base URL is configured.
func registerConnectors(cfg *config.Config, svc *ehr.IntegrationService, logger zerolog.Logger) {
	if cfg.EpicBaseURL != "" {
		tokens := ehr.NewTokenManager(ehr.Credentials{
			ClientID:     cfg.EpicClientID,
			ClientSecret: cfg.EpicClientSecret,
			TokenURL:     cfg.EpicTokenURL,
		}, nil)
		svc.Register("epic", ehr.NewEpicConnector(cfg.EpicBaseURL, tokens, logger))
	}
	if cfg.CernerBaseURL != "" {
		tokens := ehr.NewTokenManager(ehr.Credentials{
			ClientID:     cfg.CernerClientID,
			ClientSecret: cfg.CernerClientSecret,
			TokenURL:     cfg.CernerTokenURL,
		}, nil)
		svc.Register("cerner", ehr.NewCernerConnector(cfg.CernerBaseURL, tokens, logger))
	}
	if cfg.AllscriptsBaseURL != "" {
		tokens := ehr.NewTokenManager(ehr.Credentials{
			ClientID:     cfg.AllscriptsClientID,
			ClientSecret: cfg.AllscriptsClientSecret,
			TokenURL:     cfg.AllscriptsTokenURL,
		}, nil)
		svc.Register("allscripts", ehr.NewAllscriptsConnector(cfg.AllscriptsBaseURL, cfg.AllscriptsAppName, tokens, logger))
	}
}

// mllpHandler parses each inbound frame, stages it on the queue, and answers
// with an HL7 ACK. Messages that do not parse are rejected without queueing.
func mllpHandler(inbox *queue.MessageQueue, logger zerolog.Logger) hl7v2.MessageHandler {
	acks := hl7v2.NewBuilder()
	return func(raw []byte) []byte {
		msg, err := hl7v2.Parse(raw)
		if err != nil {
			logger.Warn().Err(err).Msg("rejected inbound HL7 message")
			return acks.BuildACK("", hl7v2.AckForError(err), err.Error())
		}

		queueID := inbox.Enqueue(raw, rxmodel.FormatHL7V2, 5)
		logger.Info().
			Str("control_id", msg.ControlID).
			Str("queue_id", queueID).
			Msg("queued inbound HL7 message")
		return acks.BuildACK(msg.ControlID, hl7v2.AckAccept, "Message queued")
	}
}

// drainLoop sweeps the inbound queue and submits each staged payload through
// the gateway until the context is cancelled.
func drainLoop(ctx context.Context, inbox *queue.MessageQueue, gateway *submission.Gateway, workers int, logger zerolog.Logger) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := inbox.Drain(ctx, workers, 0, func(ctx context.Context, msg *queue.QueuedMessage) error {
				return submitQueued(ctx, gateway, msg)
			})
			if err != nil {
				logger.Error().Err(err).Msg("queue drain failed")
			}
		}
	}
}

// submitQueued pushes one staged message through the gateway. A rejected or
// errored submission marks the message failed so the outcome is visible in
// the queue stats.
func submitQueued(ctx context.Context, gateway *submission.Gateway, msg *queue.QueuedMessage) error {
	resp := gateway.Submit(ctx, msg.RawPayload, msg.Format, "", "system")
	switch resp.Status {
	case submission.StatusTransmitted:
		return nil
	case submission.StatusRejected:
		return rxerr.Newf(rxerr.KindValidation, "submission rejected: %s", resp.Message)
	default:
		return rxerr.Newf(rxerr.KindTransport, "submission failed: %s", resp.Message)
	}
}

// syncLoop periodically pushes pending sync jobs to their EHR targets.
func syncLoop(ctx context.Context, sched *syncjob.Scheduler, interval time.Duration, workers int, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sched.PendingCount() == 0 {
				continue
			}
			results := sched.ProcessPendingJobs(ctx, workers)
			logger.Info().
				Int("processed", results.Processed).
				Int("succeeded", results.Succeeded).
				Int("failed", results.Failed).
				Int("retrying", results.Retrying).
				Msg("sync pass complete")
		}
	}
}
