package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ms-coupons/internal/auth"
	"ms-coupons/internal/config"
	"ms-coupons/internal/coupon"
	"ms-coupons/internal/coupon/coupon_api"
	couponDB "ms-coupons/internal/coupon/db"
	"ms-coupons/internal/coupon/qr"
	couponRedis "ms-coupons/internal/coupon/redis"
	"ms-coupons/internal/database/migrations"
	"ms-coupons/internal/kafka"
	"ms-coupons/internal/logger"
	"ms-coupons/internal/metrics"
	"ms-coupons/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func connectPostgres(cfg config.DatabaseConfig, logger *logger.Logger) *bun.DB {
	if cfg.DSN == "" {
		logger.Fatal("CONFIG", "POSTGRES_DSN not set")
	}

	var sqldb *sql.DB
	var err error
	maxRetries := cfg.ConnectRetry

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	logger.Info("DATABASE", "✅ PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func buildVerifier(ctx context.Context, cfg config.AuthConfig, logger *logger.Logger) auth.Verifier {
	if cfg.OIDCIssuer != "" {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer)
		if err != nil {
			logger.Fatal("AUTH", err.Error())
		}
		logger.Info("AUTH", fmt.Sprintf("Verifying tokens against OIDC issuer %s", cfg.OIDCIssuer))
		return v
	}
	if cfg.JWTSecret != "" {
		logger.Warn("AUTH", "OIDC_ISSUER not set, verifying HS256 tokens with JWT_SECRET")
		return auth.NewHMACVerifier(cfg.JWTSecret)
	}
	logger.Fatal("CONFIG", "either OIDC_ISSUER or JWT_SECRET must be set")
	return nil
}

// requestLogger writes one API log line per request.
func requestLogger(logger *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.LogAPI(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start).String())
		})
	}
}

// redemptionHandler adapts the claim service to the redemption consumer.
func redemptionHandler(svc *coupon.ClaimService, logger *logger.Logger) kafka.RedemptionHandler {
	return func(ctx context.Context, event models.CouponRedeemedEvent) error {
		_, err := svc.RecordRedemption(ctx, event)
		if errors.Is(err, coupon.ErrInstanceNotFound) {
			logger.Warn("REDEEM", fmt.Sprintf("Unknown coupon code %s in redemption event, skipping", event.InstanceCode))
			return nil
		}
		return err
	}
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Coupon Service initialization")
	cfg := config.Load()

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	bunDB := connectPostgres(cfg.Database, logger)
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, cfg.Database.MigrationsDir, logger)
		if err := runner.RunMigrations(); err != nil {
			logger.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
		// the runner's postgres driver shares bunDB's pool, so it is not closed here
	}

	m := metrics.New()
	service := coupon.NewClaimService(&couponDB.DB{Bun: bunDB}, logger)
	service.Metrics = m
	service.Location = cfg.Claim.Location()
	service.CodeInsertAttempts = cfg.Claim.CodeInsertAttempts
	logger.Info("CONFIG", fmt.Sprintf("Claim timezone: %s", service.Location))

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		client, err := couponRedis.Connect(cfg.Redis.Addr, logger)
		if err != nil {
			logger.Warn("REDIS", "Continuing without definition cache and stock guard")
		} else {
			redisClient = client
			defer redisClient.Close()
			service.Cache = couponRedis.NewDefinitionCache(redisClient, cfg.Redis.DefinitionTTL)
			service.Stock = couponRedis.NewStockGuard(redisClient, cfg.Redis.StockCounterTTL)
		}
	}

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		topics := []string{cfg.Kafka.Topics.CouponClaimed, cfg.Kafka.Topics.CouponRedeemed}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}

		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.CouponClaimed, logger)
		defer producer.Close()
		service.Events = producer
		logger.Info("KAFKA", "Kafka producer initialized successfully")

		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.CouponRedeemed, cfg.Kafka.GroupID, logger)
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx, redemptionHandler(service, logger)); err != nil {
				logger.Error("KAFKA", fmt.Sprintf("Redemption consumer exited: %v", err))
			}
		}()
	}

	handler := coupon_api.NewHandler(service, qr.NewQRGenerator(cfg.QR.Size), logger, cfg.Claim.Timeout)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	// --- Public Routes ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", m.Handler())

	// --- Protected Routes ---
	handler.Mount(r,
		auth.Middleware(buildVerifier(ctx, cfg.Auth, logger), logger),
		auth.AdminMiddleware(cfg.Admin.APIKey, logger),
	)
	if cfg.Admin.APIKey == "" {
		logger.Warn("AUTH", "ADMIN_API_KEY not set, admin routes will reject every request")
	}
	logger.Info("ROUTER", "Coupon routes registered under /coupons and /admin/coupons")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Coupon Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "✅ Coupon Service shutdown complete")
	}
}
