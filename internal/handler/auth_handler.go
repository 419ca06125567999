package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"session-service/internal/service"
	"session-service/internal/util"
)

// AuthHandler handles HTTP requests for the session lifecycle.
type AuthHandler struct {
	sessions *service.SessionService
	logger   *zap.Logger
}

func NewAuthHandler(sessions *service.SessionService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RegisterRoutes registers the auth routes.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.Authenticator)
			r.Get("/me", h.Me)
		})
	})
}

// Login handles credential verification and token issuance.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		h.respondWithError(w, http.StatusUnauthorized, service.ErrInvalidCredentials, "Login failed")
		return
	}

	result, err := h.sessions.Login(ctx, req.Email, req.Password)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Login failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Login successful"))
	h.logger.Info("Login via HTTP",
		util.String("identity", result.Identity),
		util.Duration("duration", time.Since(startTime)),
	)
}

// Refresh rotates the refresh token and returns a new pair.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusUnauthorized, service.ErrInvalidToken, "Refresh failed")
		return
	}

	pair, err := h.sessions.Refresh(ctx, req.RefreshToken)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Refresh failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(pair, "Tokens refreshed"))
}

// Logout revokes the presented access token and the identity's refresh token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accessToken, err := bearerToken(r)
	if err != nil {
		h.respondWithError(w, http.StatusUnauthorized, err, "Logout failed")
		return
	}

	if err := h.sessions.Logout(ctx, accessToken); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Logout failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

// Me returns the authorized identity, its claims, and the caller's own
// lockout status.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	auth, ok := AuthFromContext(ctx)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, service.ErrInvalidToken, "Not authenticated")
		return
	}

	lockState, err := h.sessions.LockoutStatus(ctx, auth.Identity)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to load account status")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"identity":   auth.Identity,
		"role":       auth.Claims.Role,
		"company_id": auth.Claims.CompanyID,
		"lockout":    lockState,
	}, "OK"))
}

func (h *AuthHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, service.ErrAccountDeactivated):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrTokenExpired),
		errors.Is(err, service.ErrTokenRevoked):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, status int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", util.ErrorField(err))
	}
}

func (h *AuthHandler) respondWithError(w http.ResponseWriter, status int, err error, message string) {
	h.respondWithJSON(w, status, errorResponse(err, message))
}
