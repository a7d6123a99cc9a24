package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/nkiryanov/caroauth/internal/apperrors"
	"github.com/nkiryanov/caroauth/internal/handlers/render"
	"github.com/nkiryanov/caroauth/internal/logger"
	"github.com/nkiryanov/caroauth/internal/models"
)

const (
	refreshCookieName = "refreshtoken"
	authHeaderName    = "Authorization"
	authScheme        = "Bearer"
)

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func handleRegister(auth authService, l logger.Logger) http.Handler {
	type request struct {
		Username string `json:"username" validate:"required,min=3,max=50"`
		Email    string `json:"email" validate:"required,email,max=254"`
		Password string `json:"password" validate:"required,min=8,max=128"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := auth.Register(r.Context(), data.Username, data.Email, data.Password)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserAlreadyExists):
				render.ServiceError(w, "User already exists", http.StatusConflict)
			default:
				l.Error("registration failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		writeTokens(w, pair, http.StatusCreated)
	})
}

func handleLogin(auth authService, l logger.Logger) http.Handler {
	type request struct {
		EmailOrUsername string `json:"emailOrUsername" validate:"required"`
		Password        string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := auth.Login(r.Context(), data.EmailOrUsername, data.Password)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrInvalidCredentials):
				render.ServiceError(w, "Invalid credentials", http.StatusUnauthorized)
			default:
				l.Error("login failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		writeTokens(w, pair, http.StatusOK)
	})
}

// Refresh token is read from JSON body, then from cookie
func handleRefresh(auth authService, l logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refreshToken"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var data request
		err := json.NewDecoder(r.Body).Decode(&data)
		if err != nil && !errors.Is(err, io.EOF) {
			render.DecodeError(w, err)
			return
		}

		token := data.RefreshToken
		if token == "" {
			if cookie, err := r.Cookie(refreshCookieName); err == nil {
				token = cookie.Value
			}
		}
		if token == "" {
			render.ServiceError(w, "Refresh token required", http.StatusUnauthorized)
			return
		}

		pair, err := auth.Rotate(r.Context(), token)
		if err != nil {
			switch {
			// Reason is logged by the service and never told to client
			case errors.Is(err, apperrors.ErrUnauthorized):
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			default:
				l.Error("token refresh failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		writeTokens(w, pair, http.StatusOK)
	})
}

// Tokens go to body, access token to header and refresh token to HttpOnly cookie
func writeTokens(w http.ResponseWriter, pair models.TokenPair, status int) {
	w.Header().Set(authHeaderName, authScheme+" "+pair.Access.Value)

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.Refresh.Value,
		Path:     "/",
		MaxAge:   int(time.Until(pair.Refresh.ExpiresAt).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	render.JSONWithStatus(w, tokenResponse{
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
	}, status)
}
