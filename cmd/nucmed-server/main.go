package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nucmed/nucmed/internal/config"
	"github.com/nucmed/nucmed/internal/domain/calculator"
	"github.com/nucmed/nucmed/internal/domain/tracer"
	"github.com/nucmed/nucmed/internal/platform/alerting"
	"github.com/nucmed/nucmed/internal/platform/auth"
	"github.com/nucmed/nucmed/internal/platform/db"
	"github.com/nucmed/nucmed/internal/platform/middleware"
	"github.com/nucmed/nucmed/internal/radiopharm"
	"github.com/nucmed/nucmed/migrations"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "nucmed-server",
		Short:        "Radiopharmacy radiation-safety API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(siteCmd())
	rootCmd.AddCommand(isotopesCmd())
	rootCmd.AddCommand(evaluateCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the alert monitor",
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
			schema, err := siteSchema(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrations.FS)
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("site", "", "Site whose schema is migrated (defaults to DEFAULT_SITE)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := siteSchema(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied() {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("site", "", "Site whose schema is inspected (defaults to DEFAULT_SITE)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func siteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Manage radiopharmacy sites",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a site schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating site schema: site_%s\n", name)
			if err := db.CreateSiteSchema(ctx, pool, name, db.NewMigrator(pool, migrations.FS)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Site created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Site identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

// siteSchema resolves --site to its schema, falling back to DEFAULT_SITE.
func siteSchema(cmd *cobra.Command) (string, error) {
	site, _ := cmd.Flags().GetString("site")
	if site == "" {
		cfg, err := config.LoadWithoutDatabase()
		if err != nil {
			return "", err
		}
		site = cfg.DefaultSite
	}
	return db.SchemaForSite(site)
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := alerting.NewMetrics(registry)

	// Domain
	tracerSvc := tracer.NewService(
		tracer.NewLotRepoPG(pool),
		tracer.NewQCRepoPG(pool),
		tracer.NewPreparationRepoPG(pool),
	)
	tracerSvc.SetTxRunner(db.TxRunner(pool))

	// Alert monitor
	publishers := []alerting.Publisher{alerting.NewLogPublisher(logger)}
	if cfg.RedisURL != "" {
		rdb, err := alerting.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		publishers = append(publishers, alerting.NewRedisPublisher(rdb, cfg.AlertChannel, 3*cfg.AlertRefreshInterval))
		logger.Info().Str("channel", cfg.AlertChannel).Msg("publishing alerts to redis")
	}
	monitor := alerting.NewMonitor(siteSource(pool, cfg.DefaultSite, tracerSvc), alerting.MonitorConfig{
		Site:       cfg.DefaultSite,
		Interval:   cfg.AlertRefreshInterval,
		Publishers: publishers,
		Metrics:    metrics,
		Logger:     logger,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Site-ID"},
	}))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.Secure())

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// API
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	apiV1.Use(db.SiteMiddleware(pool, cfg.DefaultSite))
	apiV1.Use(middleware.Audit(logger))

	calculator.NewHandler().RegisterRoutes(apiV1)
	tracer.NewHandler(tracerSvc).RegisterRoutes(apiV1)
	alerting.NewHandler(monitor).RegisterRoutes(apiV1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// siteSource reads the active lots of one site for the alert monitor.
func siteSource(pool *pgxpool.Pool, site string, svc *tracer.Service) alerting.Source {
	return func(ctx context.Context) ([]radiopharm.LotSnapshot, error) {
		conn, err := db.AcquireSite(ctx, pool, site)
		if err != nil {
			return nil, err
		}
		defer conn.Release()
		return svc.Snapshots(db.WithSite(ctx, site, conn))
	}
}
