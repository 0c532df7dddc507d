package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/reliefportal/internal/auth"
	"github.com/example/reliefportal/internal/handlers"
	"github.com/example/reliefportal/internal/metrics"
	"github.com/example/reliefportal/internal/middleware"
	"github.com/example/reliefportal/internal/models"
	"github.com/example/reliefportal/internal/session"
	"github.com/example/reliefportal/internal/store"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Env     string
	Auth    *auth.Service
	Session *session.Transport
	Master  store.MasterStore
	Metrics *metrics.Metrics
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, d Deps) {
	authHandler := handlers.NewAuthHandler(d.Auth, d.Session)
	masterHandler := handlers.NewMasterHandler(d.Master)

	gate := middleware.AuthGate(d.Auth)
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	if d.Metrics != nil {
		app.Get("/metrics", d.Metrics.Handler())
	}

	api := app.Group("/api")
	api.Get("/health", handlers.Health(d.Env))

	// Auth routes
	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Post("/refresh", authHandler.Refresh)
	authRoutes.Post("/send-otp", authHandler.SendOTP)
	authRoutes.Post("/verify-otp", authHandler.VerifyOTP)
	authRoutes.Post("/reset-password", authHandler.ResetPassword)

	authRoutes.Post("/logout", gate, authHandler.Logout)
	authRoutes.Get("/me", gate, authHandler.Me)
	authRoutes.Post("/change-password", gate, authHandler.ChangePassword)
	authRoutes.Post("/register-user", gate, adminOnly, authHandler.RegisterUser)

	// Reference data
	master := api.Group("/master")
	master.Get("/disaster-types", masterHandler.ListDisasterTypes)
	master.Get("/districts", masterHandler.ListDistricts)
	master.Get("/blocks/:districtId", masterHandler.ListBlocks)
	master.Get("/panchayats/:blockId", masterHandler.ListPanchayats)

	master.Post("/disaster-types", gate, adminOnly, masterHandler.CreateDisasterType)
	master.Post("/districts", gate, adminOnly, masterHandler.CreateDistrict)
	master.Post("/blocks", gate, adminOnly, masterHandler.CreateBlock)
	master.Post("/panchayats", gate, adminOnly, masterHandler.CreatePanchayat)

	app.Use(handlers.NotFound)
}
