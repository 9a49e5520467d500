package resetpassword

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

const opTimeout = 5 * time.Second

// Request is posted by the reset form; JSON bodies with the same fields are
// accepted too.
type Request struct {
	Token       string `json:"token" form:"token" validate:"required"`
	NewPassword string `json:"new_password" form:"new_password" validate:"required"`
}

type Response struct {
	resp.Response
	Message string `json:"message"`
}

type PasswordResetter interface {
	ResetPassword(ctx context.Context, token, next string) error
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	resetter PasswordResetter,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.resetpassword.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		if err := render.Decode(r, &req); err != nil {
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

		if err := resetter.ResetPassword(ctx, req.Token, req.NewPassword); err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidOrExpiredToken),
				errors.Is(err, auth.ErrWeakPassword),
				errors.Is(err, auth.ErrPasswordTooLong):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error(err.Error()))

				return
			case errors.Is(err, auth.ErrUserNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error(err.Error()))

				return
			}

			log.Error("failed to reset password", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		log.Info("password reset")

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Message:  "Password has been reset successfully",
		})
	}
}
