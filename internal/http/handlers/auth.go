package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/celestialseal/server/internal/auth"
	"github.com/celestialseal/server/internal/logger"
	"github.com/celestialseal/server/internal/middleware"
	"github.com/celestialseal/server/pkg/apierror"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *auth.AuthService
	cookies     CookieConfig
	log         *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.AuthService, cookies CookieConfig, log *slog.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, cookies: cookies, log: log}
}

// HandleRegister handles POST /auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, h.log, err)
		return
	}
	req.normalize()
	if err := req.validate(); err != nil {
		respondWithError(w, h.log, err)
		return
	}

	user, err := h.authService.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if apierror.Is(err, apierror.CodeAlreadyExists) {
			h.log.Info("registration rejected, duplicate", "email", logger.MaskEmail(req.Email))
		}
		respondWithError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusCreated, toUserResponse(user))
}

// HandleLogin handles POST /auth/login (username, password and otp)
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, h.log, err)
		return
	}
	if err := req.validate(true); err != nil {
		respondWithError(w, h.log, err)
		return
	}

	principal, err := h.authService.ValidateCredentials(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		respondWithError(w, h.log, err)
		return
	}
	pair, err := h.authService.Login(r.Context(), principal, strings.TrimSpace(req.OTP))
	if err != nil {
		respondWithError(w, h.log, err)
		return
	}

	h.cookies.set(w, pair)
	respondJSON(w, http.StatusOK, tokenResponse{
		Message:      "Login successful",
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
	})
}

// HandleSendOtp handles POST /auth/sendotp (username and password)
func (h *AuthHandler) HandleSendOtp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, h.log, err)
		return
	}
	if err := req.validate(false); err != nil {
		respondWithError(w, h.log, err)
		return
	}

	principal, err := h.authService.ValidateCredentials(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		respondWithError(w, h.log, err)
		return
	}
	if err := h.authService.SendOtp(r.Context(), principal); err != nil {
		respondWithError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, messageResponse{Message: "OTP sent successfully"})
}

// HandleReverify handles POST /auth/reverify (username and password)
func (h *AuthHandler) HandleReverify(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, h.log, err)
		return
	}
	if err := req.validate(false); err != nil {
		respondWithError(w, h.log, err)
		return
	}

	principal, err := h.authService.ValidateCredentials(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		respondWithError(w, h.log, err)
		return
	}
	if err := h.authService.Reverify(r.Context(), principal); err != nil {
		respondWithError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, messageResponse{Message: "Email sent successfully"})
}

// HandleVerify handles GET /auth/verify/{token}
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	pair, err := h.authService.VerifyEmail(r.Context(), token)
	if err != nil {
		respondWithError(w, h.log, err)
		return
	}

	h.cookies.set(w, pair)
	respondJSON(w, http.StatusOK, tokenResponse{
		Message:      "User verified successfully",
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
	})
}

// refreshTokenFrom prefers the cookie and falls back to a JSON body
func (h *AuthHandler) refreshTokenFrom(r *http.Request) (string, error) {
	if c, err := r.Cookie(refreshCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	var req refreshRequest
	if err := decodeJSON(r, &req, true); err != nil {
		return "", err
	}
	return strings.TrimSpace(req.RefreshToken), nil
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	token, err := h.refreshTokenFrom(r)
	if err != nil {
		respondWithError(w, h.log, err)
		return
	}
	if token == "" {
		respondWithError(w, h.log, apierror.Forbidden("Access Denied!"))
		return
	}

	pair, err := h.authService.Refresh(r.Context(), token)
	if err != nil {
		respondWithError(w, h.log, err)
		return
	}

	h.cookies.set(w, pair)
	respondJSON(w, http.StatusOK, tokenResponse{
		Message:      "Refresh rotation successful",
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
	})
}

// HandleLogout handles POST /auth/logout. Missing or invalid tokens still clear the cookies.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token, err := h.refreshTokenFrom(r)
	if err != nil {
		respondWithError(w, h.log, err)
		return
	}
	if err := h.authService.Logout(r.Context(), token); err != nil {
		respondWithError(w, h.log, err)
		return
	}

	h.cookies.clear(w)
	respondJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

// HandleLogoutAll handles POST /auth/logoutall (authenticated)
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, h.log, apierror.Unauthorized("Unauthorized"))
		return
	}
	if err := h.authService.LogoutAll(r.Context(), userID); err != nil {
		respondWithError(w, h.log, err)
		return
	}

	h.cookies.clear(w)
	respondJSON(w, http.StatusOK, messageResponse{Message: "Logged out from all devices"})
}

// HandleMe handles GET /me (authenticated). Returns the authenticated user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, h.log, apierror.Unauthorized("Unauthorized"))
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(*user))
}
