package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"msat_auth/internal/http_server/handlers/changepassword"
	"msat_auth/internal/http_server/handlers/health"
	"msat_auth/internal/http_server/handlers/login"
	"msat_auth/internal/http_server/handlers/register"
	"msat_auth/internal/http_server/handlers/requestreset"
	"msat_auth/internal/http_server/handlers/resetform"
	"msat_auth/internal/http_server/handlers/resetpassword"
	"msat_auth/internal/http_server/handlers/root"
	"msat_auth/internal/middleware/authn"
	"msat_auth/internal/middleware/metrics"
	rateLimit "msat_auth/internal/middleware/ratelimit"
	"msat_auth/internal/models"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
)

// AuthService is the set of operations the HTTP surface exposes.
type AuthService interface {
	Register(ctx context.Context, username, email, password string) (string, error)
	Login(ctx context.Context, username, password string) (string, error)
	Authenticate(ctx context.Context, token string) (models.User, error)
	ChangePassword(ctx context.Context, user models.User, current, next string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, next string) error
}

type Deps struct {
	Log      *slog.Logger
	Validate *validator.Validate
	Auth     AuthService
	Forms    resetform.FormRenderer
	Store    health.Pinger
	Metrics  *metrics.Metrics

	Version        string
	DocsURL        string
	AllowedOrigins []string
}

func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(d.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", root.New(d.Version, d.DocsURL))
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	r.Get("/healthz/liveness", health.Liveness())
	r.Get("/healthz/readiness", health.Readiness(d.Log, d.Store))

	r.Route("/auth", func(r chi.Router) {
		r.With(rateLimit.Register()).Post("/register",
			register.New(d.Log, d.Validate, d.Auth),
		)
		r.With(rateLimit.Login()).Post("/login",
			login.New(d.Log, d.Validate, d.Auth),
		)
		r.With(rateLimit.ChangePassword(), authn.New(d.Log, d.Auth)).Post("/change-password",
			changepassword.New(d.Log, d.Validate, d.Auth),
		)
		r.With(rateLimit.RequestPasswordReset()).Post("/request-password-reset",
			requestreset.New(d.Log, d.Validate, d.Auth),
		)
		r.Get("/reset-password",
			resetform.New(d.Log, d.Forms),
		)
		r.With(rateLimit.ResetPassword()).Post("/reset-password",
			resetpassword.New(d.Log, d.Validate, d.Auth),
		)
	})

	return r
}
