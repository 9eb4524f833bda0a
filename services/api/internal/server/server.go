package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"realestate360/internal/metrics"
	"realestate360/internal/ratelimit"
	"realestate360/internal/security"
	"realestate360/internal/util"
	"realestate360/pkg/domain"
	"realestate360/services/api/internal/app"
	"realestate360/services/api/internal/estimator"
	"realestate360/services/api/internal/idpclient"
)

const (
	defaultMaxUploadBytes = 60 << 20
	maxJSONBodyBytes      = 1 << 20
	multipartMemoryBytes  = 32 << 20
)

// TokenVerifier resolves a bearer token to the caller's identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// IdentityProvider handles credential flows on behalf of clients.
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password, name string) (idpclient.SignUpResult, error)
	ConfirmSignUp(ctx context.Context, email, code string) error
	Login(ctx context.Context, email, password string) (idpclient.Tokens, error)
}

// Estimator produces price estimates.
type Estimator interface {
	Predict(ctx context.Context, req estimator.Request) (domain.Estimate, error)
}

// Alerter counts failed security events and reports threshold breaches.
type Alerter interface {
	Observe(ctx context.Context, event, outcome, ip string) (security.AlertResult, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App       *app.App
	Tokens    TokenVerifier
	IdP       IdentityProvider
	Estimator Estimator
	Alerter   Alerter

	// Limiters default to in-process limiters of 10, 5 and 20 requests per minute.
	AuthLimiter     ratelimit.Limiter
	FeedbackLimiter ratelimit.Limiter
	PredictLimiter  ratelimit.Limiter

	TrustedProxies *util.TrustedProxies
	CORSOrigin     string
	MaxUploadBytes int64
	Version        string
}

// Server exposes the marketplace HTTP API.
type Server struct {
	app             *app.App
	tokens          TokenVerifier
	idp             IdentityProvider
	estimator       Estimator
	alerter         Alerter
	authLimiter     ratelimit.Limiter
	feedbackLimiter ratelimit.Limiter
	predictLimiter  ratelimit.Limiter
	trusted         *util.TrustedProxies
	corsOrigin      string
	maxUploadBytes  int64
	version         string
	mux             *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token verifier required")
	}
	s := &Server{
		app:             cfg.App,
		tokens:          cfg.Tokens,
		idp:             cfg.IdP,
		estimator:       cfg.Estimator,
		alerter:         cfg.Alerter,
		authLimiter:     cfg.AuthLimiter,
		feedbackLimiter: cfg.FeedbackLimiter,
		predictLimiter:  cfg.PredictLimiter,
		trusted:         cfg.TrustedProxies,
		corsOrigin:      cfg.CORSOrigin,
		maxUploadBytes:  cfg.MaxUploadBytes,
		version:         cfg.Version,
		mux:             http.NewServeMux(),
	}
	if s.authLimiter == nil {
		s.authLimiter = ratelimit.NewLocalLimiter(10, time.Minute)
	}
	if s.feedbackLimiter == nil {
		s.feedbackLimiter = ratelimit.NewLocalLimiter(5, time.Minute)
	}
	if s.predictLimiter == nil {
		s.predictLimiter = ratelimit.NewLocalLimiter(20, time.Minute)
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = defaultMaxUploadBytes
	}
	if s.version == "" {
		s.version = "dev"
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(s.corsOrigin, h)
	h = util.WithSecurityHeaders(h)
	h = metrics.InstrumentHandler(h)
	h = util.WithRequestLog(h)
	return util.WithRequestID(h)
}

// Routes lists the method and path patterns the server serves.
var Routes = []struct{ Method, Path string }{
	{http.MethodGet, "/"},
	{http.MethodGet, "/health"},
	{http.MethodGet, "/healthz"},
	{http.MethodGet, "/metrics"},
	{http.MethodPost, "/auth/signup"},
	{http.MethodPost, "/auth/login"},
	{http.MethodPost, "/auth/verify-otp"},
	{http.MethodGet, "/properties"},
	{http.MethodPost, "/properties/upload"},
	{http.MethodGet, "/properties/{id}"},
	{http.MethodPut, "/properties/{id}"},
	{http.MethodDelete, "/properties/{id}"},
	{http.MethodGet, "/users/profile"},
	{http.MethodPost, "/users/profile"},
	{http.MethodGet, "/users/profile/{email}"},
	{http.MethodPost, "/appointments"},
	{http.MethodGet, "/appointments/user"},
	{http.MethodGet, "/appointments/owner"},
	{http.MethodPatch, "/appointments/{id}"},
	{http.MethodPost, "/appointments/{id}/contact-request"},
	{http.MethodPatch, "/appointments/{id}/share-contact"},
	{http.MethodPost, "/appointments/migrate-roles"},
	{http.MethodPost, "/api/predict-price"},
	{http.MethodPost, "/feedback"},
	{http.MethodGet, "/feedback"},
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())

	// auth
	s.mux.HandleFunc("/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.HandleFunc("/auth/verify-otp", s.handleVerifyOTP)

	// properties (reads are public)
	s.mux.HandleFunc("/properties", s.handleListProperties)
	s.mux.Handle("/properties/upload", s.authenticated(s.handleCreateProperty))
	s.mux.HandleFunc("/properties/", s.handlePropertyByID)

	// profiles
	s.mux.Handle("/users/profile", s.authenticated(s.handleProfile))
	s.mux.Handle("/users/profile/", s.authenticated(s.handleProfileByEmail))

	// appointments
	s.mux.Handle("/appointments", s.authenticated(s.handleCreateAppointment))
	s.mux.Handle("/appointments/", s.authenticated(s.handleAppointmentPath))

	s.mux.HandleFunc("/api/predict-price", s.handlePredict)
	s.mux.HandleFunc("/feedback", s.handleFeedback)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	endpoints := make([]string, 0, len(Routes))
	for _, rt := range Routes {
		endpoints = append(endpoints, rt.Method+" "+rt.Path)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "realestate360",
		"version":   s.version,
		"endpoints": endpoints,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.app.Ping(ctx); err != nil {
		util.LoggerFromContext(r.Context()).Warn("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.Identity)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := s.identify(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, identity)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
		if !identity.Admin {
			s.audit(r, "api.admin.authorize", "fail", "email", identity.Email, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		s.audit(r, "api.admin.authorize", "success", "email", identity.Email)
		next(w, r, identity)
	})
}

func (s *Server) identify(r *http.Request) (domain.Identity, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "api.token.verify", "fail", "reason", "missing_token")
		return domain.Identity{}, false
	}
	identity, err := s.tokens.Verify(r.Context(), token)
	if err != nil {
		s.audit(r, "api.token.verify", "fail", "reason", "invalid_signature_or_claims")
		return domain.Identity{}, false
	}
	s.audit(r, "api.token.verify", "success", "email", identity.Email)
	return identity, true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trusted)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
	if s.alerter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
	defer cancel()
	result, err := s.alerter.Observe(ctx, event, outcome, ip)
	if err != nil {
		logger.Warn("security alert counter failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes)).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// pathParts splits the path below prefix into its segments.
func pathParts(r *http.Request, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func messageResponse(format string, args ...any) map[string]string {
	return map[string]string{"message": fmt.Sprintf(format, args...)}
}
