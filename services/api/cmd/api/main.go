package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"realestate360/internal/keylock"
	"realestate360/internal/ratelimit"
	"realestate360/internal/security"
	"realestate360/internal/usertoken"
	"realestate360/internal/util"
	"realestate360/pkg/events"
	"realestate360/pkg/storage"
	"realestate360/services/api/internal/app"
	"realestate360/services/api/internal/config"
	"realestate360/services/api/internal/estimator"
	"realestate360/services/api/internal/idpclient"
	"realestate360/services/api/internal/server"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	objects, err := newObjectStore(cfg)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "err", err)
		}
		cancel()
	}

	locker, err := newLocker(cfg, rdb)
	if err != nil {
		log.Fatalf("failed to init appointment locks: %v", err)
	}
	publisher, err := newPublisher(cfg, rdb)
	if err != nil {
		log.Fatalf("failed to init event publisher: %v", err)
	}
	defer publisher.Close()

	appCore, err := app.New(app.Config{
		Objects: objects,
		Locker:  locker,
		Events:  publisher,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	leeway, _ := config.ParseDuration(cfg.JWTLeeway, 0)
	verifier, err := usertoken.NewVerifier(ctx, usertoken.Config{
		JWKSURL:     cfg.JWKSURL,
		Issuer:      cfg.JWTIssuer,
		Audience:    cfg.JWTAudience,
		Leeway:      leeway,
		AdminGroup:  cfg.AdminGroup,
		AdminEmails: cfg.AdminEmails,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	serverCfg := server.Config{
		App:            appCore,
		Tokens:         verifier,
		CORSOrigin:     cfg.CORSOrigin,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Version:        version,
	}
	if cfg.CognitoClientID != "" {
		idp, err := idpclient.New(idpclient.Config{
			Region:       cfg.CognitoRegion,
			Endpoint:     cfg.CognitoEndpoint,
			ClientID:     cfg.CognitoClientID,
			ClientSecret: cfg.CognitoClientSecret,
		})
		if err != nil {
			log.Fatalf("failed to init identity provider client: %v", err)
		}
		serverCfg.IdP = idp
	} else {
		logger.Warn("cognitoClientID not set, auth endpoints disabled")
	}

	estimatorTimeout, _ := config.ParseDuration(cfg.EstimatorTimeout, 0)
	gateway, err := estimator.New(estimator.Config{
		Command:       cfg.EstimatorCommand,
		Script:        cfg.EstimatorScript,
		DataPath:      cfg.EstimatorDataPath,
		WorkDir:       cfg.EstimatorWorkDir,
		Timeout:       estimatorTimeout,
		MaxConcurrent: cfg.EstimatorMaxConcurrent,
	})
	if err != nil {
		log.Fatalf("failed to init estimator: %v", err)
	}
	serverCfg.Estimator = gateway

	if len(cfg.TrustedProxyCIDRs) > 0 {
		trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
		if err != nil {
			log.Fatalf("invalid trustedProxyCIDRs: %v", err)
		}
		serverCfg.TrustedProxies = trusted
	}
	if rdb != nil {
		if serverCfg.AuthLimiter, err = ratelimit.NewRedisFixedWindowLimiter(rdb, "realestate360:rl:auth", cfg.AuthRateLimitPerMinute, time.Minute); err != nil {
			log.Fatalf("failed to init auth rate limiter: %v", err)
		}
		if serverCfg.FeedbackLimiter, err = ratelimit.NewRedisFixedWindowLimiter(rdb, "realestate360:rl:feedback", cfg.FeedbackRateLimitPerMinute, time.Minute); err != nil {
			log.Fatalf("failed to init feedback rate limiter: %v", err)
		}
		if serverCfg.PredictLimiter, err = ratelimit.NewRedisFixedWindowLimiter(rdb, "realestate360:rl:predict", cfg.PredictRateLimitPerMinute, time.Minute); err != nil {
			log.Fatalf("failed to init predict rate limiter: %v", err)
		}
		alerter, err := security.NewAuditAlerter(rdb, "realestate360:alerts")
		if err != nil {
			log.Fatalf("failed to init security alerter: %v", err)
		}
		serverCfg.Alerter = alerter
	} else {
		serverCfg.AuthLimiter = ratelimit.NewLocalLimiter(cfg.AuthRateLimitPerMinute, time.Minute)
		serverCfg.FeedbackLimiter = ratelimit.NewLocalLimiter(cfg.FeedbackRateLimitPerMinute, time.Minute)
		serverCfg.PredictLimiter = ratelimit.NewLocalLimiter(cfg.PredictRateLimitPerMinute, time.Minute)
	}

	httpServer, err := server.New(serverCfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("server listening", "addr", addr, "storage", cfg.StorageBackend, "events", cfg.EventsBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

func newObjectStore(cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.StorageBackend == "memory" {
		slog.Warn("using in-memory object storage, data is lost on restart")
		return storage.NewMemoryStore(cfg.PublicBaseURL), nil
	}
	return storage.NewMinioStore(storage.MinioConfig{
		Endpoint:      cfg.MinioEndpoint,
		AccessKey:     cfg.MinioAccessKey,
		SecretKey:     cfg.MinioSecretKey,
		Bucket:        cfg.MinioBucket,
		Region:        cfg.MinioRegion,
		UseSSL:        cfg.MinioUseSSL,
		PublicBaseURL: cfg.PublicBaseURL,
	})
}

func newLocker(cfg config.FileConfig, rdb *redis.Client) (keylock.Locker, error) {
	if rdb == nil {
		return keylock.NewLocalLocker(), nil
	}
	ttl, _ := config.ParseDuration(cfg.LockTTL, 0)
	return keylock.NewRedisLocker(rdb, keylock.RedisConfig{Prefix: "realestate360:lock", TTL: ttl})
}

func newPublisher(cfg config.FileConfig, rdb *redis.Client) (events.Publisher, error) {
	switch cfg.EventsBackend {
	case "redis":
		return events.NewRedisStreamPublisher(rdb, events.RedisStreamConfig{Stream: cfg.EventsStream})
	case "amqp":
		return events.NewAMQPPublisher(events.AMQPConfig{URL: cfg.AMQPURL, Exchange: cfg.AMQPExchange})
	default:
		return events.Nop{}, nil
	}
}
