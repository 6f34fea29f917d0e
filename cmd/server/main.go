package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	echoapi "github.com/sonomandeep/deviceauth/api/echo"
	"github.com/sonomandeep/deviceauth/cache"
	rediscache "github.com/sonomandeep/deviceauth/cache/redis"
	"github.com/sonomandeep/deviceauth/config"
	"github.com/sonomandeep/deviceauth/domain"
	"github.com/sonomandeep/deviceauth/internal/metrics"
	"github.com/sonomandeep/deviceauth/internal/ratelimit"
	applog "github.com/sonomandeep/deviceauth/log"
	"github.com/sonomandeep/deviceauth/middleware"
	"github.com/sonomandeep/deviceauth/mongodb"
	"github.com/sonomandeep/deviceauth/services"
	"github.com/sonomandeep/deviceauth/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
		fallbackLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		fallbackLog.Warn().
			Str("configured_log_level", cfg.LogLevel).
			Err(parseErr).
			Msg("Invalid LOG_LEVEL configured, defaulting to 'info'")
	}
	logger := applog.NewZerologAdapter(logLevel, cfg.LogPretty)

	ctx := context.Background()
	logger.Info(ctx, "Starting deviceauth server...", map[string]interface{}{
		"http_port":       cfg.HTTPPort,
		"public_base_url": cfg.PublicBaseURL,
		"mongo":           cfg.MongoURI != "",
		"redis":           cfg.RedisAddr != "",
	})

	metrics.Register(prometheus.DefaultRegisterer)

	// Authorization store: MongoDB when configured, in-memory otherwise.
	var authRepo domain.AuthorizationRepository
	if cfg.MongoURI != "" {
		if initErr := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); initErr != nil {
			logger.Error(ctx, "Failed to initialize MongoDB connection", initErr)
			os.Exit(1)
		}
		repo, repoErr := mongodb.NewDeviceAuthRepository(ctx, mongodb.GetDB())
		if repoErr != nil {
			logger.Error(ctx, "Failed to initialize device auth repository", repoErr)
			os.Exit(1)
		}
		authRepo = repo
	} else {
		logger.Warn(ctx, "MONGO_URI not set, using in-memory authorization store")
		authRepo = store.NewMemoryAuthorizationStore()
	}

	// Credential store: Redis when configured, in-memory otherwise.
	var credStore cache.CredentialStore
	if cfg.RedisAddr != "" {
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if pingErr := redisClient.Ping(ctx).Err(); pingErr != nil {
			logger.Error(ctx, "Failed to ping Redis", pingErr)
			os.Exit(1)
		}
		credStore = rediscache.NewCredentialStore(redisClient, "deviceauth")
	} else {
		logger.Warn(ctx, "REDIS_ADDR not set, using in-memory credential store")
		credStore = cache.NewMemoryCredentialStore()
	}
	defer credStore.Close()

	credentialService := services.NewCredentialService(
		credStore,
		time.Duration(cfg.CredentialTTLHour)*time.Hour,
	)
	deviceAuthService := services.NewDeviceAuthService(
		authRepo,
		credentialService,
		services.FlowOptions{
			CodeLifetime:        time.Duration(cfg.DeviceCodeTTLMin) * time.Minute,
			PollInterval:        cfg.PollIntervalSec,
			SlowDownIncrement:   cfg.SlowDownIncrementSec,
			VerificationBaseURI: cfg.PublicBaseURL,
		},
		logger,
	)

	var sessions middleware.SessionAuthenticator
	if cfg.SessionInfoURL != "" {
		sessions = middleware.NewRemoteSessionAuthenticator(cfg.SessionInfoURL)
	} else {
		logger.Warn(ctx, "SESSION_INFO_URL not set, approval endpoint will reject all requests")
		sessions = rejectAllSessions{}
	}

	limiter := ratelimit.New(cfg.ApproveRatePerMin, cfg.ApproveRateBurst)
	defer limiter.Stop()

	deviceAPI := echoapi.NewDeviceAuthAPI(deviceAuthService, credentialService, sessions, limiter)

	e := echo.New()
	e.HideBanner = true
	deviceAPI.RegisterRoutes(e)

	// Sweeper lifecycle is tied to the server's.
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	sweeper := services.NewSweeper(
		authRepo,
		time.Duration(cfg.SweepIntervalSec)*time.Second,
		time.Duration(cfg.RetentionHour)*time.Hour,
		logger,
	)
	go sweeper.Run(sweepCtx)

	go func() {
		if serveErr := e.Start(":" + cfg.HTTPPort); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error(ctx, "HTTP server failed", serveErr)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "Shutting down...")
	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error(shutdownCtx, "HTTP server shutdown failed", shutdownErr)
	}
	if disconnectErr := mongodb.Disconnect(shutdownCtx); disconnectErr != nil {
		logger.Error(shutdownCtx, "MongoDB disconnect failed", disconnectErr)
	}
}

// rejectAllSessions is the fallback authenticator when no session endpoint is
// configured: every approval request is rejected.
type rejectAllSessions struct{}

func (rejectAllSessions) Authenticate(context.Context, *http.Request) (*domain.Identity, *domain.Organization, error) {
	return nil, nil, middleware.ErrNoSession
}
