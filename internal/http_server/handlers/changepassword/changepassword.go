package changepassword

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"msat_auth/internal/auth"
	resp "msat_auth/internal/lib/api/response"
	sl "msat_auth/internal/lib/logger"
	"msat_auth/internal/middleware/authn"
	"msat_auth/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

const opTimeout = 5 * time.Second

type Request struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

type Response struct {
	resp.Response
	Message string `json:"message"`
}

type PasswordChanger interface {
	ChangePassword(ctx context.Context, user models.User, current, next string) error
}

// New must run behind authn.New.
func New(
	log *slog.Logger,
	validate *validator.Validate,
	changer PasswordChanger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.changepassword.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		user, ok := authn.UserFromContext(r.Context())
		if !ok {
			log.Error("no authenticated user in context")

			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error(auth.ErrUnauthorized.Error()))

			return
		}

		log = log.With(slog.Int64("uid", user.ID))

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

		err := changer.ChangePassword(ctx, user, req.CurrentPassword, req.NewPassword)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidCredentials):
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Incorrect current password"))

				return
			case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrPasswordTooLong):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error(err.Error()))

				return
			case errors.Is(err, auth.ErrUserNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error(err.Error()))

				return
			}

			log.Error("failed to change password", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		log.Info("password changed")

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Message:  "Password updated successfully",
		})
	}
}
