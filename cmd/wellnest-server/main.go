package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wellnest/wellnest/internal/config"
	"github.com/wellnest/wellnest/internal/domain/availability"
	"github.com/wellnest/wellnest/internal/platform/auth"
	"github.com/wellnest/wellnest/internal/platform/cache"
	"github.com/wellnest/wellnest/internal/platform/db"
	"github.com/wellnest/wellnest/internal/platform/middleware"
	"github.com/wellnest/wellnest/internal/platform/warmer"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wellnest-server",
		Short: "Practitioner availability API",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(availabilityCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the availability API server",
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

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, os.DirFS(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, os.DirFS(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// availabilityCmd computes slots straight from the database, bypassing the
// cache. Useful when debugging a practitioner's configuration.
func availabilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Print the open slots of a service as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := queryFromFlags(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := newAvailabilityService(pool, cfg, zerolog.Nop())
			slots, err := svc.GetAvailability(ctx, q)
			if err != nil {
				return err
			}
			return writeSlots(cmd.OutOrStdout(), slots)
		},
	}
	cmd.Flags().String("service", "", "Service ID")
	cmd.Flags().String("start", "", "First date, YYYY-MM-DD (default today)")
	cmd.Flags().String("end", "", "Last date, YYYY-MM-DD")
	cmd.Flags().Int("days-ahead", 0, "Days after start when --end is not given")
	cmd.MarkFlagRequired("service")
	return cmd
}

func queryFromFlags(cmd *cobra.Command) (availability.Query, error) {
	var q availability.Query
	raw, _ := cmd.Flags().GetString("service")
	id, err := uuid.Parse(raw)
	if err != nil {
		return q, fmt.Errorf("invalid --service %q: %w", raw, err)
	}
	q.ServiceID = id
	if s, _ := cmd.Flags().GetString("start"); s != "" {
		d, err := availability.ParseDate(s)
		if err != nil {
			return q, fmt.Errorf("invalid --start: %w", err)
		}
		q.StartDate = &d
	}
	if s, _ := cmd.Flags().GetString("end"); s != "" {
		d, err := availability.ParseDate(s)
		if err != nil {
			return q, fmt.Errorf("invalid --end: %w", err)
		}
		q.EndDate = &d
	}
	q.DaysAhead, _ = cmd.Flags().GetInt("days-ahead")
	if q.DaysAhead < 0 {
		return q, fmt.Errorf("--days-ahead must not be negative")
	}
	return q, nil
}

func writeSlots(w io.Writer, slots []availability.Slot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(slots)
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.DatabaseURL, poolConfig(cfg))
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns, MaxConnIdleTime: 5 * time.Minute}
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "wellnest").Logger()
}

func newAvailabilityService(pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger, opts ...availability.Option) *availability.Service {
	opts = append([]availability.Option{
		availability.WithLogger(logger),
		availability.WithStride(cfg.SlotStride()),
		availability.WithDaysAhead(cfg.AvailabilityDaysAhead),
	}, opts...)
	return availability.NewService(
		availability.NewServiceRepoPG(pool),
		availability.NewPractitionerRepoPG(pool),
		availability.NewScheduleRepoPG(pool),
		availability.NewOverrideRepoPG(pool),
		availability.NewBookingRepoPG(pool),
		opts...,
	)
}

// newCacheStore returns Redis when REDIS_URL is set and the in-process
// store otherwise. The returned checks are added to /health/db.
func newCacheStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Store, []db.Check, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info().Msg("REDIS_URL not set, using in-memory availability cache")
		return cache.NewMemoryStore(), nil, func() {}, nil
	}
	store, err := cache.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info().Msg("connected to redis")
	checks := []db.Check{{Name: "redis", Ping: store.Ping}}
	return store, checks, func() { store.Close() }, nil
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}

// newEcho builds the server with global middleware and the liveness route.
func newEcho(cfg *config.Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	return e
}

// apiGroup mounts /api/v1 behind authentication and rate limiting.
func apiGroup(e *echo.Echo, cfg *config.Config) *echo.Group {
	var authMW echo.MiddlewareFunc
	if cfg.IsDev() && cfg.AuthSigningKey == "" && cfg.AuthJWKSURL == "" {
		authMW = auth.DevAuthMiddleware()
	} else {
		jc := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}
		if cfg.AuthSigningKey != "" {
			jc.SigningKey = []byte(cfg.AuthSigningKey)
		}
		authMW = auth.JWTMiddleware(jc)
	}
	return e.Group("/api/v1", authMW, middleware.RateLimit(rateLimitConfig(cfg)))
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolConfig(cfg))
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	store, cacheChecks, closeCache, err := newCacheStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to redis")
		return err
	}
	defer closeCache()

	svc := newAvailabilityService(pool, cfg, logger, availability.WithCache(store, cfg.CacheTTL()))

	e := newEcho(cfg, logger)
	checks := append([]db.Check{db.PoolCheck(pool)}, cacheChecks...)
	e.GET("/health/db", db.HealthHandler(pool, checks...))

	availability.NewHandler(svc, logger).RegisterRoutes(apiGroup(e, cfg))

	var w *warmer.Warmer
	if cfg.WarmCron != "" && cfg.CacheTTL() > 0 {
		w, err = warmer.New(cfg.WarmCron, availability.NewServiceRepoPG(pool), svc, cfg.WarmServiceLimit,
			availability.IsNoPractitioner, logger)
		if err != nil {
			return err
		}
		w.Start()
	}

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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if w != nil {
		w.Stop(shutdownCtx)
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
