package resetform

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	resp "msat_auth/internal/lib/api/response"
	sl "msat_auth/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type FormRenderer interface {
	ResetPasswordForm(w io.Writer, token string) error
}

// New serves the page a reset link opens. The token is only embedded in the
// form here; it is verified when the form is submitted.
func New(log *slog.Logger, renderer FormRenderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.resetform.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		token := r.URL.Query().Get("token")
		if token == "" {
			log.Info("missing reset token")

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("missing token"))

			return
		}

		var buf bytes.Buffer
		if err := renderer.ResetPasswordForm(&buf, token); err != nil {
			log.Error("failed to render reset form", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		render.HTML(w, r, buf.String())
	}
}
