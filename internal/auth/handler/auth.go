package handler

import (
	"net/http"
	"time"

	"github.com/brightcampus/schoolcore/internal/auth/service"
	"github.com/brightcampus/schoolcore/internal/metrics"
	"github.com/brightcampus/schoolcore/pkg/errors"
	"github.com/brightcampus/schoolcore/pkg/httputil"
	"github.com/brightcampus/schoolcore/pkg/logger"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	service *service.AuthService
	metrics *metrics.Registry
	logger  *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(svc *service.AuthService, m *metrics.Registry, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		service: svc,
		metrics: m,
		logger:  log,
	}
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	userAgent := r.UserAgent()
	ipAddress := r.RemoteAddr

	start := time.Now()
	response, err := h.service.Login(r.Context(), &req, userAgent, ipAddress)
	h.metrics.ObserveSince("auth.latency", start)
	if err != nil {
		var appErr *errors.AppError
		if errors.As(err, &appErr) && appErr.StatusCode == http.StatusUnauthorized {
			h.metrics.Inc("auth.login_failures")
		}
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, response)
}

// Logout revokes the caller's session. The refresh token comes from the
// body; a missing or already-dead token still logs out cleanly, so the
// client can always drop its local state.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = httputil.DecodeJSON(r, &req)

	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		h.logger.Warn().Err(err).Msg("logout error")
	}

	httputil.NoContent(w)
}

// Refresh handles token refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	tokens, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, tokens)
}

// ChangePassword rotates the caller's password. This is the one endpoint a
// must_change_password user is allowed to reach.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())
	if userID == "" {
		httputil.Error(w, errors.Unauthorized("not authenticated"))
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=8"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONMessage(w, http.StatusOK, "password changed", nil)
}

// Me returns the current user's information. The user id comes from the
// validated claims the authenticator bound to the context, never from a
// client-supplied header.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())
	if userID == "" {
		httputil.Error(w, errors.Unauthorized("not authenticated"))
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), userID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, user)
}
