package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
)

// AuthHandlers handles authentication and account HTTP requests
type AuthHandlers struct {
	service     *auth.Service
	credentials *auth.Credentials
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(service *auth.Service, credentials *auth.Credentials) *AuthHandlers {
	return &AuthHandlers{service: service, credentials: credentials}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, s *Server) {
	limits := s.deps.Limits

	// Public routes
	router.HandleFunc("/auth/register", h.register).Methods("POST")
	router.Handle("/auth/login", s.limited(limits.Login, http.HandlerFunc(h.login))).Methods("POST")
	router.HandleFunc("/auth/refresh", h.refresh).Methods("POST")
	router.Handle("/auth/forgot-password", s.limited(limits.Reset, http.HandlerFunc(h.forgotPassword))).Methods("POST")
	router.HandleFunc("/auth/reset-password", h.resetPassword).Methods("POST")
	router.HandleFunc("/auth/verify-email", h.verifyEmail).Methods("POST")

	// Authenticated routes
	router.Handle("/auth/me", s.authed(h.me)).Methods("GET")
	router.Handle("/auth/profile", s.authed(h.updateProfile)).Methods("PUT")
	router.Handle("/auth/password", s.authed(h.changePassword)).Methods("PUT")
	router.Handle("/auth/logout", s.authed(h.logout)).Methods("POST")
	router.Handle("/auth/logout-all", s.authed(h.logoutAll)).Methods("POST")
	router.Handle("/auth/resend-verification",
		s.limited(limits.Verification, s.authed(h.resendVerification))).Methods("POST")
	router.Handle("/auth/sessions", s.authed(h.listSessions)).Methods("GET")
	router.Handle("/auth/sessions/{id}", s.authed(h.revokeSession)).Methods("DELETE")
}

// RegisterResponse is returned by a successful registration
type RegisterResponse struct {
	Message string     `json:"message"`
	User    *auth.User `json:"user"`
}

// register handles POST /api/auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), req, audit.MetaFromRequest(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	httputil.WriteCreated(w, RegisterResponse{
		Message: "account created, please check your email to verify your address",
		User:    user,
	})
}

// VerificationRequired is the 403 body of a login blocked on email verification
type VerificationRequired struct {
	Error                string `json:"error"`
	RequiresVerification bool   `json:"requiresVerification"`
}

// login handles POST /api/auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req, audit.MetaFromRequest(r))
	if errors.Is(err, auth.ErrEmailNotVerified) {
		httputil.WriteJSON(w, http.StatusForbidden, VerificationRequired{
			Error:                auth.ErrEmailNotVerified.Message,
			RequiresVerification: true,
		})
		return
	}
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

// RefreshRequest carries a refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refresh handles POST /api/auth/refresh
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.service.Refresh(r.Context(), req.RefreshToken, audit.MetaFromRequest(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

// ForgotPasswordRequest names the account to reset
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// forgotPassword handles POST /api/auth/forgot-password
func (h *AuthHandlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.credentials.RequestReset(r.Context(), req.Email, audit.MetaFromRequest(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

// resetPassword handles POST /api/auth/reset-password
func (h *AuthHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req auth.ResetInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.credentials.ConsumeReset(r.Context(), req, audit.MetaFromRequest(r)); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	httputil.WriteMessage(w, "password has been reset, please log in again")
}

// VerifyEmailRequest carries the token from a verification link
type VerifyEmailRequest struct {
	Token string `json:"token"`
}

// verifyEmail handles POST /api/auth/verify-email
func (h *AuthHandlers) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Token, audit.MetaFromRequest(r)); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	httputil.WriteMessage(w, "email verified")
}

// me handles GET /api/auth/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Me(r.Context(), identity(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, profile)
}

// updateProfile handles PUT /api/auth/profile
func (h *AuthHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req auth.ProfileInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), identity(r), req, audit.MetaFromRequest(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, profile)
}

// changePassword handles PUT /api/auth/password
func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	var req auth.ChangePasswordInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	err := h.credentials.ChangePassword(r.Context(), identity(r), middleware.AccessToken(r), req, audit.MetaFromRequest(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteMessage(w, "password changed, other sessions have been signed out")
}

// logout handles POST /api/auth/logout
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), identity(r), middleware.AccessToken(r), audit.MetaFromRequest(r)); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteMessage(w, "logged out")
}

// LogoutAllResponse reports how many sessions were revoked
type LogoutAllResponse struct {
	Message         string `json:"message"`
	RevokedSessions int64  `json:"revokedSessions"`
}

// logoutAll handles POST /api/auth/logout-all
func (h *AuthHandlers) logoutAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.LogoutAll(r.Context(), identity(r), audit.MetaFromRequest(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, LogoutAllResponse{Message: "logged out of all devices", RevokedSessions: n})
}

// resendVerification handles POST /api/auth/resend-verification
func (h *AuthHandlers) resendVerification(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResendVerification(r.Context(), identity(r), audit.MetaFromRequest(r)); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteMessage(w, "verification email sent")
}

// SessionsResponse lists the caller's live sessions
type SessionsResponse struct {
	Sessions []auth.SessionInfo `json:"sessions"`
}

// listSessions handles GET /api/auth/sessions
func (h *AuthHandlers) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.ListSessions(r.Context(), identity(r), middleware.AccessToken(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, SessionsResponse{Sessions: sessions})
}

// revokeSession handles DELETE /api/auth/sessions/{id}
func (h *AuthHandlers) revokeSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := httputil.PathVar(r, "id")
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	if err := h.service.RevokeSession(r.Context(), identity(r), sessionID, audit.MetaFromRequest(r)); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteMessage(w, "session revoked")
}
