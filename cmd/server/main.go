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
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	echoapi "github.com/pmb2/Social-Genius-sub006/api/echo"
	redisstore "github.com/pmb2/Social-Genius-sub006/cache/redis"
	"github.com/pmb2/Social-Genius-sub006/config"
	"github.com/pmb2/Social-Genius-sub006/internal/browser"
	"github.com/pmb2/Social-Genius-sub006/internal/crypto"
	"github.com/pmb2/Social-Genius-sub006/internal/federation"
	"github.com/pmb2/Social-Genius-sub006/internal/statetoken"
	"github.com/pmb2/Social-Genius-sub006/log"
	"github.com/pmb2/Social-Genius-sub006/mongodb"
	"github.com/pmb2/Social-Genius-sub006/services"
	"github.com/pmb2/Social-Genius-sub006/tracing"
)

var appLogger log.Logger

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)
	appLogger = log.NewZerologAdapter(logLevel, cfg.LogPretty)

	ctx := context.Background()
	appLogger.Info(ctx, "Starting server...", map[string]interface{}{
		"http_port":     cfg.HTTPPort,
		"mongo_db_name": cfg.MongoDBName,
		"redis_addr":    cfg.RedisAddr,
		"log_level":     logLevel.String(),
	})

	tracerProvider, err := tracing.InitTracerProvider("")
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize TracerProvider", err)
	}

	// MongoDB
	if initErr := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); initErr != nil {
		appLogger.Fatal(ctx, "Failed to initialize MongoDB connection", initErr)
	}
	db := mongodb.GetDB()

	taskRepo, err := mongodb.NewTaskRepositoryMongo(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize TaskRepository", err)
	}
	userRepo, err := mongodb.NewUserRepositoryMongo(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize UserRepository", err)
	}

	// Redis-backed sessions
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		appLogger.Fatal(ctx, "Failed to connect to Redis", err)
	}
	sessionStore := redisstore.NewSessionStore(redisClient, "sg", cfg.SessionTTL())

	// Credential sealing
	credentialKey := cfg.CredentialKey
	if credentialKey == "" {
		credentialKey, err = crypto.GenerateKey()
		if err != nil {
			appLogger.Fatal(ctx, "Failed to generate credential key", err)
		}
		appLogger.Warn(ctx, "CREDENTIAL_KEY not configured, generated an ephemeral key; sealed credentials will not survive a restart")
	}
	sealer, err := crypto.NewSealer(credentialKey)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize credential sealer", err)
	}

	// Task pipeline: service first, then the worker that reports back into it.
	taskService := services.NewTaskService(taskRepo, nil, cfg.TaskBudget())
	driverFactory := browser.NewRemoteDriverFactory(cfg.BrowserServiceURL, 30*time.Second)
	worker := browser.NewWorker(driverFactory, sealer, taskService)
	taskService.SetRunner(worker)

	// OAuth
	provider, err := federation.NewGoogleProvider(federation.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize Google provider", err)
	}
	stateCodec := statetoken.NewCodec([]byte(cfg.StateSecretKey), cfg.StateTTL())
	credentialSource := services.NewStaticCredentialSource(sealer)
	authService := services.NewAuthService(provider, sessionStore, userRepo, stateCodec, taskService, credentialSource)

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	api := echoapi.NewAPI(authService, taskService, sessionStore, userRepo, map[string]echoapi.HealthProbe{
		"mongodb": mongodb.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}, appLogger)
	api.RegisterRoutes(e)

	go func() {
		addr := ":" + cfg.HTTPPort
		appLogger.Info(ctx, fmt.Sprintf("HTTP server listening on %s", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(ctx, "Failed to start HTTP server", err)
		}
	}()

	// Janitor: drop terminal tasks past the retention window.
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	go runJanitor(janitorCtx, taskService, cfg.TaskRetention())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	appLogger.Info(ctx, fmt.Sprintf("Received signal: %v. Shutting down...", sig))

	stopJanitor()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}
	taskService.Shutdown()

	if err := redisClient.Close(); err != nil {
		appLogger.Error(shutdownCtx, "Redis shutdown error", err)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "TracerProvider shutdown error", err)
	}
	mongodb.CloseMongoDB(shutdownCtx)

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
}

func runJanitor(ctx context.Context, tasks *services.TaskService, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed, err := tasks.PurgeCompleted(ctx, retention)
			if err != nil {
				appLogger.Error(ctx, "Task purge failed", err)
				continue
			}
			if removed > 0 {
				appLogger.Info(ctx, "Purged completed tasks", map[string]interface{}{"removed": removed})
			}
		case <-ctx.Done():
			return
		}
	}
}
