package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	ldapauth "github.com/netresearch/ldap-auth-bridge"
	"github.com/netresearch/ldap-auth-bridge/internal/metrics"
)

// HealthCheckTimeout bounds the store ping on /healthz.
const HealthCheckTimeout = 5 * time.Second

// maxRequestBody caps the size of an authentication request.
const maxRequestBody = 64 << 10

// Response sources.
const (
	SourceDirectory = "directory"
	SourceLocal     = "local"
)

// Store is the part of the user store the service needs beyond the bridge.
type Store interface {
	CheckPassword(ctx context.Context, username, password string) (*ldapauth.Identity, error)
	NotifyLoginFailed(ctx context.Context, username string) error
	Ping(ctx context.Context) error
}

// AuthRequest is the body of POST /v1/authenticate.
type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthHandler serves authentication requests.
type AuthHandler struct {
	bridge  *ldapauth.Bridge
	store   Store
	limiter *ldapauth.RateLimiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Authenticate handles POST /v1/authenticate.
//
// The directory decision comes from the bridge. On fallback the local password
// is checked against the store. Every failure produces the same 401 body.
func (h *AuthHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ctx := r.Context()
	username := ldapauth.NormalizeUsername(req.Username)
	address := clientAddress(r)

	if h.limiter != nil {
		if err := h.limiter.CheckAttempt(username, address); err != nil {
			var rlErr *ldapauth.RateLimitError
			if errors.As(err, &rlErr) {
				w.Header().Set("Retry-After", strconv.Itoa(int(rlErr.RetryAfter.Seconds())+1))
			}
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "too many attempts"})
			return
		}
	}

	decision := h.bridge.Authenticate(ctx, req.Username, req.Password, nil)

	switch decision.Outcome {
	case ldapauth.Accepted:
		h.recordSuccess(username)
		writeJSON(w, http.StatusOK, AuthResponse{
			Authenticated: true,
			Source:        SourceDirectory,
			User:          decision.Identity,
			Profile:       decision.Profile,
		})

	case ldapauth.FallbackToLocal:
		identity, err := h.store.CheckPassword(ctx, username, req.Password)
		h.metrics.LocalFallback(err == nil)

		if err != nil {
			h.logger.Debug("local_authentication_failed",
				slog.String("reason", decision.Reason.String()),
				slog.String("error", err.Error()))
			h.localFailed(ctx, username, address)
			writeAccessDenied(w)
			return
		}

		h.recordSuccess(username)
		writeJSON(w, http.StatusOK, AuthResponse{
			Authenticated: true,
			Source:        SourceLocal,
			User:          identity,
		})

	default:
		writeAccessDenied(w)
	}
}

func (h *AuthHandler) recordSuccess(username string) {
	if h.limiter != nil {
		h.limiter.RecordSuccess(username)
	}
}

// localFailed records a failed local check. Directory rejections are signalled
// by the bridge itself, so this path only covers fallback failures.
func (h *AuthHandler) localFailed(ctx context.Context, username, address string) {
	if h.limiter != nil {
		h.limiter.RecordFailure(username, address)
	}

	if username == "" {
		return
	}

	if err := h.store.NotifyLoginFailed(context.WithoutCancel(ctx), username); err != nil {
		h.logger.Warn("login_failed_notification_error",
			slog.String("error", err.Error()))
	}
}

// Health handles GET /healthz.
func (h *AuthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health_check_failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
