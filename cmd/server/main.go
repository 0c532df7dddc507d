package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/reliefportal/internal/auth"
	"github.com/example/reliefportal/internal/cache"
	"github.com/example/reliefportal/internal/config"
	"github.com/example/reliefportal/internal/database"
	"github.com/example/reliefportal/internal/handlers"
	"github.com/example/reliefportal/internal/logger"
	"github.com/example/reliefportal/internal/metrics"
	"github.com/example/reliefportal/internal/middleware"
	"github.com/example/reliefportal/internal/otp"
	"github.com/example/reliefportal/internal/ratelimit"
	"github.com/example/reliefportal/internal/routes"
	"github.com/example/reliefportal/internal/session"
	"github.com/example/reliefportal/internal/store"
	"github.com/example/reliefportal/internal/token"
	"github.com/example/reliefportal/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl, err := logger.New(logger.Options{Level: cfg.LogLevel, Dev: !cfg.IsProduction()})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	db, err := database.Connect(database.Options{DSN: cfg.DatabaseURL}, zl)
	if err != nil {
		zl.Fatal("database connection failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		zl.Fatal("redis connection failed", zap.Error(err))
	}
	if rdb == nil {
		zl.Info("redis not configured; rate limiting disabled")
	} else {
		defer rdb.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	tokens, err := token.NewService(token.Config{
		AccessSecret:  []byte(cfg.JWTAccessSecret),
		RefreshSecret: []byte(cfg.JWTRefreshSecret),
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		ResetTTL:      cfg.ResetTokenTTL,
		Issuer:        "reliefportal",
	})
	if err != nil {
		zl.Fatal("token service", zap.Error(err))
	}

	var limiter *ratelimit.Limiter
	if rdb != nil {
		limiter = ratelimit.New(rdb, map[ratelimit.Action]ratelimit.Rule{
			ratelimit.ActionLogin:     {Max: cfg.LoginMaxAttempts, Window: cfg.LoginWindow},
			ratelimit.ActionOTPSend:   {Max: cfg.OTPSendMax, Window: cfg.OTPSendWindow},
			ratelimit.ActionOTPVerify: {Max: cfg.OTPVerifyMax, Window: cfg.OTPVerifyWindow},
		}, zl)
	}

	authService := auth.NewService(auth.Deps{
		Users:     store.NewGormUserStore(db),
		Tokens:    tokens,
		OTP:       otpEngine(cfg, db, rdb, zl),
		Passwords: utils.NewPasswordHasher(),
		Limiter:   limiter,
		Metrics:   m,
		Log:       zl,
	})

	app := fiber.New(fiber.Config{
		AppName:      "Relief Portal API",
		ErrorHandler: handlers.ErrorHandler(zl, cfg.IsProduction()),
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: !cfg.IsProduction()}))
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins(),
		AllowCredentials: true,
	}))
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger(zl))
	app.Use(m.Middleware())

	routes.Register(app, routes.Deps{
		Env:     cfg.Env,
		Auth:    authService,
		Session: session.NewTransport(cfg.IsProduction(), cfg.RefreshTokenTTL),
		Master:  store.NewGormMasterStore(db),
		Metrics: m,
	})

	go func() {
		<-ctx.Done()
		zl.Info("shutting down")
		if err := app.Shutdown(); err != nil {
			zl.Error("shutdown failed", zap.Error(err))
		}
	}()

	zl.Info("starting server", zap.String("port", cfg.AppPort), zap.String("env", cfg.Env))
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		zl.Fatal("fiber.Listen error", zap.Error(err))
	}
}

func otpEngine(cfg *config.Config, db *gorm.DB, rdb *redis.Client, zl *zap.Logger) otp.Engine {
	if cfg.TwilioEnabled() {
		zl.Info("otp delivery via twilio verify")
		return otp.NewTwilioEngine(otp.TwilioConfig{
			AccountSID:  cfg.TwilioAccountSID,
			AuthToken:   cfg.TwilioAuthToken,
			ServiceSID:  cfg.TwilioVerifyServiceSID,
			BaseURL:     cfg.TwilioBaseURL,
			CountryCode: cfg.SMSCountryCode,
			Timeout:     cfg.TwilioTimeout,
		}, &http.Client{Timeout: cfg.TwilioTimeout}, zl)
	}

	var challenges otp.Store
	switch cfg.OTPStore {
	case config.OTPStoreRedis:
		challenges = otp.NewRedisStore(rdb, "otp")
	case config.OTPStoreMemory:
		challenges = otp.NewMemoryStore()
	default:
		challenges = otp.NewGormStore(db)
	}
	zl.Info("otp delivery simulated", zap.String("store", cfg.OTPStore))

	return otp.NewLocalEngine(challenges, utils.NewOTPHasher(), cfg.OTPTTL, zl,
		otp.WithExposedCode(!cfg.IsProduction()),
	)
}
