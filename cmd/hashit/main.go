package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/hashit-app/hashit/adapters/events"
	"github.com/hashit-app/hashit/adapters/store"
	"github.com/hashit-app/hashit/adapters/tokenizer"
	"github.com/hashit-app/hashit/adapters/verifier"
	"github.com/hashit-app/hashit/core"
	"github.com/hashit-app/hashit/internal/config"
	"github.com/hashit-app/hashit/internal/lib/handlers/slogpretty"
	"github.com/hashit-app/hashit/ports"
	"github.com/hashit-app/hashit/service"
	transport "github.com/hashit-app/hashit/transport/http"
)

const (
	envLocal = "local"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file (or use CONFIG_PATH env)")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = "config/local.yaml"
	}

	cfg := config.LoadConfig(configPath)
	logger := setupLogger(cfg.Env)
	logger.Info("starting hashit", slog.String("env", cfg.Env), slog.String("storage", cfg.Storage.Kind))

	accessKey := mustLoadKey(cfg.Auth.PrivateKeyFile)
	refreshKey := accessKey
	if cfg.Auth.RefreshPrivateKeyFile != cfg.Auth.PrivateKeyFile {
		refreshKey = mustLoadKey(cfg.Auth.RefreshPrivateKeyFile)
	}

	jwtTokenizer := tokenizer.NewJWTTokenizer(
		tokenizer.SigningConfig{Key: accessKey, Issuer: cfg.Auth.Issuer, TTL: cfg.Auth.AccessTokenTTL},
		tokenizer.SigningConfig{Key: refreshKey, Issuer: cfg.Auth.RefreshIssuer, TTL: cfg.Auth.RefreshTokenTTL},
	)

	var redisClient *redis.Client
	if cfg.Storage.Kind == "redis" || cfg.Redis.PublishEvents {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("failed to parse redis URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
	}

	accountStore := mustBuildStore(cfg, redisClient)

	var eventPub ports.EventPublisher
	if cfg.Redis.PublishEvents {
		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redisClient},
			watermill.NewSlogLogger(logger),
		)
		if err != nil {
			log.Fatalf("failed to create event publisher: %v", err)
		}
		eventPub = events.NewWatermillPublisher(publisher)
	}

	policy := core.LockoutPolicy{
		MaxLoginAttempts: cfg.Auth.MaxLoginAttempts,
		LockoutDuration:  cfg.Auth.LockoutDuration,
	}

	tokenService := service.NewTokenService(logger, jwtTokenizer, accountStore)
	authService := service.NewAuthService(logger, accountStore, verifier.NewPersonalSignVerifier(), tokenService, eventPub, policy)

	router := transport.SetupRouter(authService, cfg.Env == envLocal)

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()
	logger.Info("listening", slog.String("addr", cfg.HTTP.Addr))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("shutting down hashit")
}

func mustBuildStore(cfg *config.Config, redisClient *redis.Client) ports.AccountStore {
	switch cfg.Storage.Kind {
	case "memory":
		return store.NewMemoryStore()
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			log.Fatalf("failed to open sqlite store: %v", err)
		}
		return s
	case "redis":
		return store.NewRedisStore(redisClient)
	default:
		log.Fatalf("unknown storage kind: %s", cfg.Storage.Kind)
		return nil
	}
}

func mustLoadKey(path string) *rsa.PrivateKey {
	pem, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to read signing key %s: %v", path, err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		log.Fatalf("failed to parse signing key %s: %v", path, err)
	}
	return key
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		opts := slogpretty.PrettyHandlerOptions{
			SlogOpts: &slog.HandlerOptions{Level: slog.LevelDebug},
		}
		return slog.New(opts.NewPrettyHandler(os.Stdout))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		panic("unknown environment: " + env)
	}
}
