package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhoward/ztverify/internal/auth"
	"github.com/rhoward/ztverify/internal/config"
	"github.com/rhoward/ztverify/internal/handlers"
	"github.com/rhoward/ztverify/internal/middleware"
)

// Dependencies carries everything the router needs
type Dependencies struct {
	Config       *config.Config
	Logger       *slog.Logger
	TokenManager *auth.TokenManager
	AuthHandler  *handlers.AuthHandler
	AdminHandler *handlers.AdminHandler
	Health       *handlers.HealthHandler
	Registry     *prometheus.Registry
}

// New builds the router with the full middleware stack and all routes
func New(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// No RealIP middleware here: it would rewrite RemoteAddr from
	// forwarding headers before the trusted-proxy check in
	// pkghttp.ExtractClientIP runs, letting any caller spoof the source
	// address the risk signals are derived from.
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.SecureLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{
		Env: deps.Config.Server.Environment,
	}))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(deps.Config.Server.AllowedOrigins)))

	r.Get("/health", deps.Health.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(middleware.DefaultLoginRateLimit()))
			r.Post("/login", deps.AuthHandler.Login)
		})

		r.Route("/otp", func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(middleware.DefaultOtpRateLimit()))
			r.Post("/verify", deps.AuthHandler.VerifyOTP)
			r.Post("/resend", deps.AuthHandler.ResendOTP)
			r.Get("/status", deps.AuthHandler.OTPStatus)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(deps.TokenManager.Authenticate)
		r.Use(auth.RequireAdmin)

		r.Get("/stats", deps.AdminHandler.GetStats)
		r.Get("/activity", deps.AdminHandler.GetRecentActivity)
		r.Get("/activity/{username}", deps.AdminHandler.GetUserActivity)
		r.Get("/risky-users", deps.AdminHandler.GetTopRiskyUsers)

		r.Get("/devices/{username}", deps.AdminHandler.GetUserDevices)
		r.Delete("/devices/{username}/{fingerprint}", deps.AdminHandler.RevokeUserDevice)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", deps.AdminHandler.ListUsers)
			r.Post("/", deps.AdminHandler.CreateUser)
			r.Get("/{id}", deps.AdminHandler.GetUser)
			r.Put("/{id}", deps.AdminHandler.UpdateUser)
			r.Delete("/{id}", deps.AdminHandler.DeleteUser)
		})
	})

	return r
}
