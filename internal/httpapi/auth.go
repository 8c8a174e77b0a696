package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/auth"
	"github.com/ragnote/ragcore/internal/ratelimit"
	"github.com/ragnote/ragcore/internal/store"
)

// AuthHandler serves the /auth endpoints.
type AuthHandler struct {
	svc     *auth.Service
	store   *store.Store
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewAuthHandler constructs the handler.
func NewAuthHandler(svc *auth.Service, st *store.Store, limiter *ratelimit.Limiter, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, store: st, limiter: limiter, logger: logger}
}

// RegisterRoutes registers the public auth endpoints.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/send-code", h.handleSendCode)
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/reset-password", h.handleResetPassword)
}

// RegisterProtectedRoutes registers endpoints that require a token.
func (h *AuthHandler) RegisterProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/me", h.handleMe)
}

func (h *AuthHandler) handleSendCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.svc.SendCode(r.Context(), req.Email)
	if err != nil {
		writeError(w, h.logger, err, 0)
		return
	}
	resp := map[string]interface{}{
		"success": true,
		"message": "Verification code sent",
	}
	if res.DevCode != "" {
		resp["dev_code"] = res.DevCode
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username         string `json:"username"`
		Email            string `json:"email"`
		Password         string `json:"password"`
		VerificationCode string `json:"verification_code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.limiter.Allow(req.Username, "register"); err != nil {
		writeError(w, h.logger, err, h.limiter.RetryAfter(req.Username, "register"))
		return
	}

	if _, err := h.svc.Register(r.Context(), req.Username, req.Email, req.Password, req.VerificationCode); err != nil {
		writeError(w, h.logger, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "User registered successfully",
	})
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.limiter.Allow(req.Username, "login"); err != nil {
		writeError(w, h.logger, err, h.limiter.RetryAfter(req.Username, "login"))
		return
	}

	token, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, h.logger, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (h *AuthHandler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email            string `json:"email"`
		VerificationCode string `json:"verification_code"`
		NewPassword      string `json:"new_password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.Email, req.VerificationCode, req.NewPassword); err != nil {
		writeError(w, h.logger, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Password reset successfully",
	})
}

func (h *AuthHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	user, err := h.store.GetUserByID(r.Context(), id.UserID)
	if err != nil {
		writeError(w, h.logger, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"nickname": "用户_" + user.Username,
	})
}
