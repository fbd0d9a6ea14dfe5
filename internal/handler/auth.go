package handler

import (
	"net/http"
	"time"

	"github.com/studysync/studysync-go/internal/middleware"
	"github.com/studysync/studysync-go/internal/model"
	"github.com/studysync/studysync-go/internal/service"
)

// AuthHandler handles HTTP requests for authentication.
type AuthHandler struct {
	service      *service.AuthService
	secureCookie bool
}

// NewAuthHandler creates a new AuthHandler. secureCookie marks the session
// cookie Secure, which browsers only send over HTTPS.
func NewAuthHandler(svc *service.AuthService, secureCookie bool) *AuthHandler {
	return &AuthHandler{service: svc, secureCookie: secureCookie}
}

type sendOTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	service.OTPIssued
}

// HandleSendOTP handles POST /api/v1/auth/send-otp requests.
func (h *AuthHandler) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req model.SendOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	purpose, err := service.ParsePurpose(req.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}

	issued, err := h.service.RequestOTP(r.Context(), service.OTPRequest{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Purpose:  purpose,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sendOTPResponse{
		Success:   true,
		Message:   "Verification code sent to your email",
		OTPIssued: issued,
	})
}

// HandleVerifyOTP handles POST /api/v1/auth/verify-otp requests.
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req model.VerifyOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	purpose, err := service.ParsePurpose(req.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.service.VerifyOTP(r.Context(), req.Email, req.OTP, purpose)
	if err != nil {
		writeError(w, r, err)
		return
	}

	msg := "Registration successful"
	if purpose == model.PurposeLogin {
		msg = "Login successful"
	}
	h.setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, model.AuthResponse{Success: true, Message: msg, User: session.User})
}

// HandleLogin handles POST /api/v1/auth/login requests.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, model.AuthResponse{Success: true, Message: "Login successful", User: session.User})
}

// HandleLogout handles POST /api/v1/auth/logout requests.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out successfully"})
}

// HandleMe handles GET /api/v1/auth/me requests. It reports the session
// state and never fails.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.CurrentUser(r.Context(), middleware.TokenFromRequest(r))
	if err != nil {
		writeJSON(w, http.StatusOK, model.SessionResponse{Authenticated: false})
		return
	}
	writeJSON(w, http.StatusOK, model.SessionResponse{Authenticated: true, User: user})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, s service.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    s.Token,
		Path:     "/",
		MaxAge:   int(h.service.SessionTTL() / time.Second),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
