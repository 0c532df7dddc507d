// Command seed-admin creates the first admin (Collector) account. It does
// nothing when an admin already exists.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/example/reliefportal/internal/auth"
	"github.com/example/reliefportal/internal/config"
	"github.com/example/reliefportal/internal/database"
	"github.com/example/reliefportal/internal/logger"
	"github.com/example/reliefportal/internal/models"
	"github.com/example/reliefportal/internal/store"
	"github.com/example/reliefportal/internal/utils"
)

type adminSeed struct {
	Name       string
	Mobile     string
	NationalID string
	Password   string
}

func seedFromEnv() adminSeed {
	return adminSeed{
		Name:       envOr("ADMIN_NAME", "Collector Admin"),
		Mobile:     envOr("ADMIN_MOBILE", "9999999999"),
		NationalID: envOr("ADMIN_NATIONAL_ID", "999999999999"),
		Password:   os.Getenv("ADMIN_PASSWORD"),
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

var errPasswordRequired = errors.New("ADMIN_PASSWORD must be set (at least 6 characters)")

// seedAdmin returns the created admin, or nil when one already exists.
func seedAdmin(ctx context.Context, users store.UserStore, hasher utils.Hasher, seed adminSeed) (*models.User, error) {
	exists, err := users.ExistsWithRole(ctx, models.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("check existing admin: %w", err)
	}
	if exists {
		return nil, nil
	}

	if len(seed.Password) < 6 {
		return nil, errPasswordRequired
	}
	if !auth.IsMobile(seed.Mobile) {
		return nil, fmt.Errorf("invalid admin mobile %q", seed.Mobile)
	}
	if !auth.IsNationalID(seed.NationalID) {
		return nil, errors.New("admin national ID must be 12 digits")
	}

	digest, err := hasher.Hash(seed.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	admin := &models.User{
		Name:         seed.Name,
		Mobile:       seed.Mobile,
		NationalID:   seed.NationalID,
		PasswordHash: digest,
		Role:         models.RoleAdmin,
		IsActive:     true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return nil, fmt.Errorf("create admin: %w", err)
	}
	return admin, nil
}

func main() {
	cfg := config.Read()

	zl, err := logger.New(logger.Options{Level: cfg.LogLevel, Dev: !cfg.IsProduction()})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	db, err := database.Connect(database.Options{DSN: cfg.DatabaseURL}, zl)
	if err != nil {
		zl.Fatal("database connection failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := seedAdmin(ctx, store.NewGormUserStore(db), utils.NewPasswordHasher(), seedFromEnv())
	if err != nil {
		zl.Fatal("seed failed", zap.Error(err))
	}
	if admin == nil {
		zl.Info("admin already exists; nothing to do")
		return
	}

	zl.Info("admin created, change the password after first login",
		zap.String("id", admin.ID.String()),
		zap.String("name", admin.Name),
		zap.String("mobile", logger.MaskMobile(admin.Mobile)),
	)
}
