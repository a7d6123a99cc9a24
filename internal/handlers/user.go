package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/caroauth/internal/apperrors"
	"github.com/nkiryanov/caroauth/internal/handlers/render"
	"github.com/nkiryanov/caroauth/internal/handlers/userctx"
	"github.com/nkiryanov/caroauth/internal/logger"
)

// Must be wrapped with middleware.RequireAuth
func handleUserMe(users userService, l logger.Logger) http.Handler {
	type response struct {
		ID       uuid.UUID `json:"id"`
		Username string    `json:"username"`
		Email    string    `json:"email"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := userctx.FromContext(r.Context())

		user, err := users.GetUser(r.Context(), principal.Identity)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserNotFound):
				render.ServiceError(w, "User not found", http.StatusNotFound)
			default:
				l.Error("can't get user", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, response{ID: user.ID, Username: user.Username, Email: user.Email})
	})
}
