package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"time"

	"ms-coupons/internal/auth"
	"ms-coupons/internal/config"
	"ms-coupons/internal/coupon"
	couponDB "ms-coupons/internal/coupon/db"
	"ms-coupons/internal/database/migrations"
	"ms-coupons/internal/logger"
	"ms-coupons/internal/models"
	"ms-coupons/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// seed creates the schema and a sample campaign for local development.
func main() {
	instances := flag.Int("instances", 20, "available instances to pre-generate")
	maxTotal := flag.Int("max-total", 100, "campaign stock cap, 0 for unlimited")
	prefix := flag.String("prefix", "CITY", "code prefix")
	useBun := flag.Bool("bun-schema", false, "create tables from bun models instead of SQL migrations")
	user := flag.String("token-for", "", "print a dev HS256 token for this user id (needs JWT_SECRET)")
	down := flag.Bool("down", false, "roll back every SQL migration and exit")
	flag.Parse()

	logger := logger.NewLogger()
	defer logger.Close()
	cfg := config.Load()
	ctx := context.Background()

	if cfg.Database.DSN == "" {
		logger.Fatal("CONFIG", "POSTGRES_DSN not set")
	}
	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to open database: %v", err))
	}
	if err := sqldb.PingContext(ctx); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to database: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()
	store := &couponDB.DB{Bun: bunDB}

	runner := migrations.NewRunner(bunDB, cfg.Database.MigrationsDir, logger)
	defer func() {
		if err := runner.Close(); err != nil {
			logger.Warn("DATABASE", fmt.Sprintf("Failed to close migrator: %v", err))
		}
	}()

	if *down {
		logger.Info("SEED", "Rolling back migrations...")
		if err := runner.MigrateDown(); err != nil {
			logger.Fatal("SEED", fmt.Sprintf("Failed to roll back schema: %v", err))
		}
		logger.Info("SEED", "✅ Schema rolled back.")
		return
	}

	logger.Info("SEED", "Creating tables...")
	if *useBun {
		err = store.CreateTables(ctx)
	} else {
		err = runner.MigrateUp()
	}
	if err != nil {
		logger.Fatal("SEED", fmt.Sprintf("Failed to create schema: %v", err))
	}

	def := &models.CouponDefinition{
		ID:          utils.GenerateID(),
		MerchantID:  "merchant-demo",
		Title:       "Weekend museum entry",
		IsActive:    true,
		ExpiresAt:   ptr(time.Now().AddDate(0, 3, 0).UTC()),
		DaysOfWeek:  []int{6, 7},
		TimeWindows: []models.TimeWindow{{Start: "09:00", End: "18:00"}},
		MaxPerUser:  1,
		CodePrefix:  *prefix,
		CreatedAt:   time.Now().UTC(),
	}
	if *maxTotal > 0 {
		def.MaxTotalRedemptions = maxTotal
	}
	if err := store.CreateDefinition(ctx, def); err != nil {
		logger.Fatal("SEED", fmt.Sprintf("Failed to insert definition: %v", err))
	}
	logger.Info("SEED", fmt.Sprintf("Created definition %s", def.ID))

	if *instances > 0 {
		svc := coupon.NewClaimService(store, logger)
		codes, err := svc.GenerateInstances(ctx, def.ID, *instances)
		if err != nil {
			logger.Fatal("SEED", fmt.Sprintf("Failed to generate instances: %v", err))
		}
		logger.Info("SEED", fmt.Sprintf("Generated %d instances, first %s", len(codes), codes[0]))
	}

	if *user != "" {
		if cfg.Auth.JWTSecret == "" {
			logger.Fatal("CONFIG", "JWT_SECRET not set")
		}
		token, err := auth.NewHMACVerifier(cfg.Auth.JWTSecret).SignHS256(jwt.RegisteredClaims{
			Subject:   *user,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		})
		if err != nil {
			logger.Fatal("AUTH", fmt.Sprintf("Failed to sign token: %v", err))
		}
		fmt.Println(token)
	}

	logger.Info("SEED", "✅ Done.")
}

func ptr[T any](v T) *T { return &v }
