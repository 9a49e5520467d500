package requestreset

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"msat_auth/internal/auth"
	resp "msat_auth/internal/lib/api/response"
	sl "msat_auth/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

// Mail dispatch is part of the request.
const opTimeout = 10 * time.Second

// Message is returned whether or not an account uses the email.
const Message = "If an account with that email exists, a password reset link has been sent."

type Request struct {
	Email string `json:"email" validate:"required,email"`
}

type Response struct {
	resp.Response
	Message string `json:"message"`
}

type ResetRequester interface {
	RequestPasswordReset(ctx context.Context, email string) error
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	requester ResetRequester,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.requestreset.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			log.Info("invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)

			var validateErr validator.ValidationErrors
			if errors.As(err, &validateErr) {
				render.JSON(w, r, resp.ValidationError(validateErr))
				return
			}

			render.JSON(w, r, resp.Error("invalid request"))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
		defer cancel()

		if err := requester.RequestPasswordReset(ctx, req.Email); err != nil {
			log.Error("failed to process password reset request", sl.Err(err))

			msg := "internal error"
			if errors.Is(err, auth.ErrEmailDelivery) {
				msg = "Failed to send password reset email"
			}

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error(msg))

			return
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Message:  Message,
		})
	}
}
