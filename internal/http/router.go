package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/celestialseal/server/internal/auth"
	"github.com/celestialseal/server/internal/http/handlers"
	"github.com/celestialseal/server/internal/middleware"
	"github.com/celestialseal/server/internal/model"
	"github.com/celestialseal/server/pkg/apierror"
)

// Policies gates every route. Anything not listed requires a verified user.
var Policies = middleware.Policies{
	"GET /health":              {Public: true},
	"POST /auth/register":      {Public: true},
	"POST /auth/login":         {Public: true},
	"POST /auth/sendotp":       {Public: true},
	"POST /auth/reverify":      {Public: true},
	"GET /auth/verify/{token}": {Public: true},
	"POST /auth/refresh":       {Public: true},
	"POST /auth/logout":        {Public: true},
	"POST /auth/logoutall":     {},
	"GET /me":                  {},
	"GET /users/{id}":          {Roles: []model.UserType{model.UserTypeAdmin}},
}

// RouterDeps holds everything NewRouter wires together
type RouterDeps struct {
	AuthService *auth.AuthService
	Cookies     handlers.CookieConfig
	Limiter     middleware.Limiter
	DB          handlers.Pinger
	CORSOrigins []string
	Log         *slog.Logger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(d.Log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Authorizer(r, Policies, d.AuthService, d.Log))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierror.Write(w, apierror.NotFound("Route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apierror.Write(w, apierror.MethodNotAllowed("Method not allowed"))
	})

	authHandler := handlers.NewAuthHandler(d.AuthService, d.Cookies, d.Log)
	userHandler := handlers.NewUserHandler(d.AuthService, d.Log)
	healthHandler := handlers.NewHealthHandler(d.DB)

	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		// credential endpoints share a per-IP budget
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitMiddleware(d.Limiter, middleware.GetIPKey, d.Log))
			r.Post("/register", authHandler.HandleRegister)
			r.Post("/login", authHandler.HandleLogin)
			r.Post("/sendotp", authHandler.HandleSendOtp)
			r.Post("/reverify", authHandler.HandleReverify)
		})
		r.Get("/verify/{token}", authHandler.HandleVerify)
		r.Post("/refresh", authHandler.HandleRefresh)
		r.Post("/logout", authHandler.HandleLogout)
		r.Post("/logoutall", authHandler.HandleLogoutAll)
	})

	r.Get("/me", authHandler.HandleMe)
	r.Get("/users/{id}", userHandler.HandleGet)

	c := cors.New(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return c.Handler(r)
}
