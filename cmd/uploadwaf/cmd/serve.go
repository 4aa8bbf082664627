package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/uploadwaf/internal/core/api"
	"github.com/solatis/uploadwaf/internal/core/auth"
	"github.com/solatis/uploadwaf/internal/core/config"
	"github.com/solatis/uploadwaf/internal/core/db"
	"github.com/solatis/uploadwaf/internal/core/reload"
	"github.com/solatis/uploadwaf/internal/core/server"
	"github.com/solatis/uploadwaf/internal/rules"
	"github.com/solatis/uploadwaf/internal/telemetry"
	"github.com/solatis/uploadwaf/internal/upload"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the upload application behind the policy guard",
	RunE:  runServe,
}

var serveBindings = []flagBinding{
	{"server.host", "host"},
	{"server.port", "port"},
	{"server.static_dir", "static-dir"},
	{"decision_api.enabled", "decision-api"},
	{"decision_api.port", "decision-api-port"},
	{"policy.watch", "watch"},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "HTTP server host")
	serveCmd.Flags().Int("port", 3000, "HTTP server port")
	serveCmd.Flags().String("static-dir", "", "directory of static assets served at /")
	serveCmd.Flags().Bool("decision-api", false, "start the gRPC decision API")
	serveCmd.Flags().Int("decision-api-port", 50051, "gRPC decision API port")
	serveCmd.Flags().Bool("watch", false, "reload the policy when its files change")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, serveBindings...)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	var database *sqlx.DB
	var queries *db.Queries
	if cfg.DatabaseURL != "" {
		database, queries, err = openMigrated(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()
	}

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		metrics = telemetry.NewMetrics(cfg.Metrics.Namespace)
	}

	// Samples go to the database when one is configured, else to memory.
	var store telemetry.SampleStore
	if queries != nil {
		store = db.NewSampleRepository(queries)
	} else {
		store = telemetry.NewMemoryStore(cfg.Sampling.MemoryCapacity)
	}

	counters := &telemetry.Counters{}
	recorders := rules.MultiRecorder{counters}
	if metrics != nil {
		recorders = append(recorders, metrics)
	}
	builder := &reload.Builder{Recorder: recorders, Logger: logger}

	var buffer *telemetry.SampleBuffer
	if cfg.Sampling.Enabled {
		buffer = telemetry.NewSampleBuffer(store, telemetry.BufferConfig{
			Size:         cfg.Sampling.BufferSize,
			Rate:         cfg.Sampling.Rate,
			WriteTimeout: 5 * time.Second,
		}, logger)
		builder.Sampler = buffer
		if metrics != nil {
			metrics.WatchBuffer(cfg.Metrics.Namespace, buffer)
		}
	}

	snapshot, err := builder.Build(cfg.Policy)
	if err != nil {
		return err
	}
	holder := reload.NewHolder(snapshot)

	app, err := upload.New(upload.Config{
		MaxFileSizeMB: cfg.Upload.MaxFileSizeMB,
		FieldName:     cfg.Upload.FieldName,
		FormOverhead:  cfg.Upload.MaxJSONBytes,
		StaticDir:     cfg.Server.StaticDir,
	}, logger)
	if err != nil {
		return err
	}

	guard := server.NewGuard(holder, app.Handler(), metrics, logger)
	httpServer, err := server.NewHTTPServer(cfg.Server, cfg.Metrics, guard, metrics, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	var grpcServer *server.GRPCServer
	if cfg.DecisionAPI.Enabled {
		var sampleSource api.SampleLister
		if cfg.Sampling.Enabled {
			sampleSource = store
		}
		grpcServer, err = newDecisionAPI(cfg, holder, sampleSource, queries, logger)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	logger.Info().
		Str("version", Version).
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Int("limit_mb", cfg.Upload.MaxFileSizeMB).
		Msg("starting uploadwaf")

	g.Go(func() error { return httpServer.Start(ctx) })
	if grpcServer != nil {
		g.Go(func() error { return grpcServer.Start(ctx) })
	}

	if cfg.Policy.Watch {
		loadPolicy := func() (config.PolicyConfig, error) {
			next, err := loadConfig(cmd, serveBindings...)
			if err != nil {
				return config.PolicyConfig{}, err
			}
			return next.Policy, nil
		}
		watcher, err := reload.NewWatcher(
			[]string{configFile, cfg.Policy.Document, cfg.Policy.Signatures},
			cfg.Policy.ReloadDebounce,
			reload.Rebuild(holder, builder, loadPolicy),
			logger,
		)
		if err != nil {
			return err
		}
		logger.Info().Int("files", watcher.Files()).Msg("watching policy files")
		g.Go(func() error { return watcher.Run(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
		defer cancel()

		var firstErr error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			firstErr = err
		}
		if grpcServer != nil {
			if err := grpcServer.Shutdown(shutdownCtx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if buffer != nil {
			if err := buffer.Close(shutdownCtx); err != nil && firstErr == nil {
				firstErr = err
			}
			logger.Info().Int64("written", buffer.Written()).Int64("dropped", buffer.Dropped()).Msg("sample buffer drained")
		}
		for _, c := range counters.Snapshot() {
			logger.Info().Str("rule", c.Rule).Int64("evaluated", c.Evaluated).Int64("matched", c.Matched).Msg("rule totals")
		}
		return firstErr
	})

	return g.Wait()
}

// openMigrated opens the database and refuses to continue on a schema that
// has pending migrations.
func openMigrated(url string) (*sqlx.DB, *db.Queries, error) {
	database, err := db.Open(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	statuses, err := db.MigrateStatus(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			database.Close()
			return nil, nil, fmt.Errorf("migration %s not applied - run 'uploadwaf migrate up' first", s.ID)
		}
	}

	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return database, queries, nil
}

func newDecisionAPI(cfg *config.Config, holder *reload.Holder, samples api.SampleLister, queries *db.Queries, logger zerolog.Logger) (*server.GRPCServer, error) {
	var authenticator *auth.Authenticator
	if cfg.DecisionAPI.RequireAuth {
		if queries == nil {
			return nil, fmt.Errorf("decision API authentication requires --db-url")
		}
		secrets, err := config.HMACSecrets()
		if err != nil {
			return nil, fmt.Errorf("failed to load HMAC secrets: %w", err)
		}
		if len(secrets) == 0 {
			return nil, fmt.Errorf("no HMAC secrets configured (set UW_HMAC_SECRET environment variable)")
		}
		authenticator = auth.NewAuthenticator(secrets, queries, logger)
	} else {
		logger.Warn().Msg("decision API authentication disabled")
	}

	service, err := api.NewDecisionService(holder, samples, cfg.DecisionAPI, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	grpcServer, err := server.NewGRPCServer(cfg.DecisionAPI, service, authenticator, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision API server: %w", err)
	}
	return grpcServer, nil
}
