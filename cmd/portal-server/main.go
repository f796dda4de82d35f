package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/healthportal/portal/internal/config"
	"github.com/healthportal/portal/internal/domain/consent"
	"github.com/healthportal/portal/internal/domain/consultation"
	"github.com/healthportal/portal/internal/domain/identity"
	"github.com/healthportal/portal/internal/domain/notification"
	"github.com/healthportal/portal/internal/domain/records"
	"github.com/healthportal/portal/internal/platform/auth"
	"github.com/healthportal/portal/internal/platform/backend"
	"github.com/healthportal/portal/internal/platform/blobstore"
	"github.com/healthportal/portal/internal/platform/cache"
	"github.com/healthportal/portal/internal/platform/db"
	"github.com/healthportal/portal/internal/platform/events"
	"github.com/healthportal/portal/internal/platform/middleware"
	"github.com/healthportal/portal/internal/platform/websocket"
	"github.com/healthportal/portal/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-server",
		Short: "Health portal API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal API server",
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

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

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
	})

	return cmd
}

// tokenCmd prints a signed bearer token for local testing.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a local account",
		RunE: func(cmd *cobra.Command, args []string) error {
			account, _ := cmd.Flags().GetString("account")
			profile, _ := cmd.Flags().GetString("profile")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if account == "" {
				return fmt.Errorf("--account is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AuthSigningKey == "" {
				return fmt.Errorf("AUTH_SIGNING_KEY must be set to issue tokens")
			}
			key, _, err := resolveSigningKey(cfg.AuthSigningKey)
			if err != nil {
				return err
			}

			token, err := auth.IssueToken(newClaims(cfg, account, profile, role, ttl, time.Now()), key)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().String("account", "", "Account id (token subject)")
	cmd.Flags().String("profile", "", "Profile id the session acts as")
	cmd.Flags().String("role", auth.RolePatient, "Role: patient, doctor or admin")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}

func newClaims(cfg *config.Config, account, profile, role string, ttl time.Duration, now time.Time) auth.Claims {
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account,
			Issuer:    cfg.AuthIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ProfileID: profile,
		Roles:     []string{role},
	}
	if cfg.AuthAudience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.AuthAudience}
	}
	return claims
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// resolveSigningKey decodes the hex AUTH_SIGNING_KEY, or generates a random
// 32-byte key when none is configured. The second return value is true when
// a random key was generated.
func resolveSigningKey(envValue string) ([]byte, bool, error) {
	if envValue != "" {
		decoded, err := hex.DecodeString(envValue)
		if err != nil {
			return nil, false, fmt.Errorf("invalid AUTH_SIGNING_KEY hex value: %w", err)
		}
		return decoded, false, nil
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random signing key: %w", err)
	}
	return key, true, nil
}

func buildCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*cache.Cache, func(), error) {
	if cfg.RedisURL == "" {
		store := cache.NewMemoryStore()
		store.StartCleanup(ctx, time.Minute)
		return cache.New(store, cfg.CachePrefix, logger), func() {}, nil
	}
	client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return cache.New(cache.NewRedisStore(client), cfg.CachePrefix, logger), func() { client.Close() }, nil
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if cfg.BlobBackend != "s3" {
		return blobstore.NewMemoryStore(), nil
	}
	client, err := blobstore.NewS3Client(ctx, cfg.S3Region, cfg.S3Endpoint)
	if err != nil {
		return nil, err
	}
	return blobstore.NewS3Store(client, cfg.S3Bucket), nil
}

func buildPublisher(cfg *config.Config) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Nop{}
	}
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
}

func buildProfileRepo(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) identity.ProfileRepository {
	if !cfg.UsesRemoteProfiles() {
		return identity.NewProfileRepo(pool)
	}
	return identity.NewRemoteProfileRepo(backend.New(ctx, backend.Config{
		BaseURL:      cfg.BackendURL,
		TokenURL:     cfg.BackendTokenURL,
		ClientID:     cfg.BackendClientID,
		ClientSecret: cfg.BackendClientSecret,
	}))
}

// services holds the wired domain layer.
type services struct {
	identity     *identity.Service
	notification *notification.Service
	records      *records.Service
	consent      *consent.Service
	consultation *consultation.Service
}

type repositories struct {
	profiles      identity.ProfileRepository
	assignments   identity.AssignmentRepository
	notifications notification.Repository
	records       records.Repository
	grants        consent.Repository
	consultations consultation.Repository
}

// wireServices connects the domain services. The consent service reads
// consultation parties straight from storage, and the records service
// admits doctors through consent grants.
func wireServices(repos repositories, tx db.TxRunner, c *cache.Cache, blobs blobstore.Store, realtime notification.Realtime, publisher events.Publisher, logger zerolog.Logger) *services {
	identitySvc := identity.NewService(repos.profiles, repos.assignments, c)
	notificationSvc := notification.NewService(repos.notifications, realtime, publisher, logger.With().Str("component", "notification").Logger())
	recordsSvc := records.NewService(repos.records, blobs, identitySvc, notificationSvc, logger.With().Str("component", "records").Logger())
	consentSvc := consent.NewService(repos.grants, consultation.NewPartyLookup(repos.consultations), identitySvc, recordsSvc, notificationSvc,
		logger.With().Str("component", "consent").Logger())
	recordsSvc.SetAccessPolicy(consentSvc)
	consultationSvc := consultation.NewService(repos.consultations, tx, identitySvc, consentSvc, notificationSvc,
		logger.With().Str("component", "consultation").Logger())

	return &services{
		identity:     identitySvc,
		notification: notificationSvc,
		records:      recordsSvc,
		consent:      consentSvc,
		consultation: consultationSvc,
	}
}

func registerRoutes(api *echo.Group, svcs *services) {
	identity.NewHandler(svcs.identity).RegisterRoutes(api)
	notification.NewHandler(svcs.notification).RegisterRoutes(api)
	records.NewHandler(svcs.records).RegisterRoutes(api)
	consent.NewHandler(svcs.consent).RegisterRoutes(api)
	consultation.NewHandler(svcs.consultation).RegisterRoutes(api)
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.RateLimitRPS
	rl.BurstSize = cfg.RateLimitBurst
	rl.WriteRequestsPerSecond = cfg.RateLimitWriteRPS
	rl.WriteBurstSize = cfg.RateLimitWriteBurst
	if cfg.RateLimitIdleTTL > 0 {
		rl.IdleTTL = cfg.RateLimitIdleTTL
	}
	return rl
}

// sweepGrants expires overdue consent grants every interval until ctx ends.
func sweepGrants(ctx context.Context, svc *consent.Service, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := svc.ExpireGrants(ctx, now)
			if err != nil {
				logger.Error().Err(err).Msg("grant sweep failed")
				continue
			}
			if n > 0 {
				logger.Info().Int("expired", n).Msg("expired consent grants")
			}
		}
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Infrastructure
	listingCache, closeCache, err := buildCache(ctx, cfg, logger.With().Str("component", "cache").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to cache")
	}
	defer closeCache()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure blob storage")
	}

	publisher := buildPublisher(cfg)
	defer publisher.Close()

	hub := websocket.NewHub(logger.With().Str("component", "websocket").Logger())

	svcs := wireServices(repositories{
		profiles:      buildProfileRepo(ctx, cfg, pool),
		assignments:   identity.NewAssignmentRepo(pool),
		notifications: notification.NewRepo(pool),
		records:       records.NewRepo(pool),
		grants:        consent.NewRepo(pool),
		consultations: consultation.NewRepo(pool),
	}, db.NewTxRunner(pool), listingCache, blobs, hub, publisher, logger)

	go sweepGrants(ctx, svcs.consent, cfg.GrantSweepInterval, logger.With().Str("component", "grant-sweep").Logger())

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M", "25M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	key, generated, err := resolveSigningKey(cfg.AuthSigningKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid signing key")
	}
	if generated {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set; using a random key, tokens will not survive a restart")
	}
	jwtCfg := auth.JWTConfig{Issuer: cfg.AuthIssuer, Audience: cfg.AuthAudience, SigningKey: key}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Health
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/ready", db.ReadyHandler(pool, map[string]db.Pinger{
		"database": db.PingFunc(pool.Ping),
		"cache":    listingCache,
	}))

	// API
	limiter := middleware.RateLimit(rateLimitConfig(cfg))
	apiV1 := e.Group("/api/v1", limiter)
	registerRoutes(apiV1, svcs)

	websocket.NewHandler(hub, cfg.CORSOrigins, logger.With().Str("component", "websocket").Logger()).RegisterRoutes(e.Group("", limiter))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
