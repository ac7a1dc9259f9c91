// Package handler adapts HTTP requests to the auth and ledger services.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sandeepkv93/finance-tracker-auth/internal/http/middleware"
	"github.com/sandeepkv93/finance-tracker-auth/internal/http/response"
	"github.com/sandeepkv93/finance-tracker-auth/internal/observability"
	"github.com/sandeepkv93/finance-tracker-auth/internal/service"
)

type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ReenterPassword string `json:"reenter_password"`
}

type tokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func newTokenPairResponse(pair service.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(time.Until(pair.AccessExpiresAt).Round(time.Second).Seconds()),
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	res, err := h.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		observability.Audit(r, "auth.register", "outcome", "failure")
		response.FromError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "auth.register", "outcome", "success", "user_id", res.UserID)
	response.JSON(w, r, http.StatusCreated, map[string]any{
		"user_id":                 res.UserID,
		"email":                   res.Email,
		"verification_expires_at": res.VerificationExpiresAt,
	})
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	if err := h.auth.Verify(r.Context(), req.Token); err != nil {
		observability.Audit(r, "auth.verify", "outcome", "failure")
		response.FromError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "auth.verify", "outcome", "success")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "verified"})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	pair, userID, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		observability.Audit(r, "auth.login", "outcome", "failure", "user_id", userID)
		response.FromError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "auth.login", "outcome", "success", "user_id", userID)
	response.JSON(w, r, http.StatusOK, newTokenPairResponse(pair))
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := middleware.BearerToken(r)
	if !ok {
		response.FromError(w, r, h.logger, service.ErrInvalidRefreshToken)
		return
	}
	pair, userID, err := h.auth.Refresh(r.Context(), raw)
	if err != nil {
		observability.Audit(r, "auth.refresh", "outcome", "failure", "user_id", userID)
		response.FromError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "auth.refresh", "outcome", "success", "user_id", userID)
	response.JSON(w, r, http.StatusOK, newTokenPairResponse(pair))
}

// Logout is idempotent: anonymous callers get 204 as well.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.NoContent(w)
		return
	}
	if err := h.auth.Logout(r.Context(), id.TenantID, id.TokenID); err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "auth.logout", "user_id", id.TenantID)
	response.NoContent(w)
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	if err := h.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "auth.password.forgot")
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		response.FromError(w, r, h.logger, err)
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.Token, req.Password, req.ReenterPassword); err != nil {
		observability.Audit(r, "auth.password.reset", "outcome", "failure")
		response.FromError(w, r, h.logger, err)
		return
	}
	observability.Audit(r, "auth.password.reset", "outcome", "success")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_reset"})
}
