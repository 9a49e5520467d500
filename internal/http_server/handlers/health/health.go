package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	resp "msat_auth/internal/lib/api/response"
	sl "msat_auth/internal/lib/logger"

	"github.com/go-chi/render"
)

const pingTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, resp.OK())
	}
}

// Readiness answers 503 while the user store is unreachable.
func Readiness(log *slog.Logger, store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			log.Warn("readiness check failed", slog.String("op", "handlers.health.Readiness"), sl.Err(err))

			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, resp.Error("storage unavailable"))

			return
		}

		render.JSON(w, r, resp.OK())
	}
}
