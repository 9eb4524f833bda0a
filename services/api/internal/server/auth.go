package server

import (
	"errors"
	"net/http"
	"strings"

	"realestate360/pkg/domain"
	"realestate360/services/api/internal/idpclient"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	req, ok := s.beginCredentialFlow(w, r, "api.signup")
	if !ok {
		return
	}
	if _, err := s.idp.SignUp(r.Context(), req.Email, req.Password, req.Name); err != nil {
		s.audit(r, "api.signup", "fail", "email", req.Email, "reason", err.Error())
		writeIdPError(w, err)
		return
	}
	s.audit(r, "api.signup", "success", "email", req.Email)
	writeJSON(w, http.StatusOK, messageResponse("User registered successfully. Please verify your OTP."))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := s.beginCredentialFlow(w, r, "api.login")
	if !ok {
		return
	}
	tokens, err := s.idp.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.login", "fail", "email", req.Email, "reason", err.Error())
		writeIdPError(w, err)
		return
	}
	s.audit(r, "api.login", "success", "email", req.Email)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     tokens.IDToken,
		"expiresIn": tokens.ExpiresIn,
	})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.authLimiter, "too many verification attempts") {
		s.audit(r, "api.verify_otp", "rate_limited")
		return
	}
	if s.idp == nil {
		writeError(w, http.StatusServiceUnavailable, "identity provider not configured")
		return
	}
	var req verifyOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := domain.NormalizeEmail(req.Email)
	code := strings.TrimSpace(req.OTP)
	if email == "" || code == "" {
		writeError(w, http.StatusBadRequest, "email and otp are required")
		return
	}
	if err := s.idp.ConfirmSignUp(r.Context(), email, code); err != nil {
		s.audit(r, "api.verify_otp", "fail", "email", email, "reason", err.Error())
		writeIdPError(w, err)
		return
	}
	s.audit(r, "api.verify_otp", "success", "email", email)
	writeJSON(w, http.StatusOK, messageResponse("OTP verified successfully"))
}

// beginCredentialFlow applies the shared method, rate limit and body checks
// of signup and login.
func (s *Server) beginCredentialFlow(w http.ResponseWriter, r *http.Request, event string) (credentialsRequest, bool) {
	var req credentialsRequest
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return req, false
	}
	if !s.allowRate(w, r, s.authLimiter, "too many authentication attempts") {
		s.audit(r, event, "rate_limited")
		return req, false
	}
	if s.idp == nil {
		writeError(w, http.StatusServiceUnavailable, "identity provider not configured")
		return req, false
	}
	if !decodeJSON(w, r, &req) {
		s.audit(r, event, "fail", "reason", "invalid_json")
		return req, false
	}
	req.Email = domain.NormalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return req, false
	}
	return req, true
}

func writeIdPError(w http.ResponseWriter, err error) {
	var apiErr *idpclient.APIError
	if errors.As(err, &apiErr) {
		writeErrorDetail(w, apiErr.Status, apiErr.Code, apiErr.Message, "")
		return
	}
	writeError(w, http.StatusBadGateway, "identity provider unavailable")
}
