package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/vin-jex/relay-gateway/internal/observability"
	"github.com/vin-jex/relay-gateway/internal/ratelimit"
	"github.com/vin-jex/relay-gateway/internal/store"
)

const (
	headerRequestID          = "X-Request-ID"
	headerAPIKey             = "X-API-Key"
	headerAdminToken         = "X-Admin-Token"
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
)

type loggerKeyType struct{}

type tenantKeyType struct{}

var (
	loggerKey = loggerKeyType{}
	tenantKey = tenantKeyType{}
)

// LoggerFromContext returns the request-scoped logger, or the default
// logger outside a request.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// tenantFromContext returns the authenticated tenant, or nil for anonymous
// traffic.
func tenantFromContext(ctx context.Context) *store.Tenant {
	tenant, _ := ctx.Value(tenantKey).(*store.Tenant)
	return tenant
}

func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)

		logger := s.logger.With("request_id", requestID, "method", r.Method, "path", r.URL.Path)

		ctx := observability.WithRequestID(r.Context(), requestID)
		ctx = context.WithValue(ctx, loggerKey, logger)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate resolves X-API-Key to a tenant. Requests without a key pass
// through as anonymous; a bad key is rejected.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(headerAPIKey)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		tenant, err := s.store.LookupAPIKey(r.Context(), key)
		if err != nil {
			if errors.Is(err, store.ErrInvalidAPIKey) {
				writeError(w, r, http.StatusUnauthorized, "invalid_api_key", "API key is invalid or revoked")
				return
			}
			s.fail(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), tenantKey, tenant)
		ctx = context.WithValue(ctx, loggerKey, LoggerFromContext(ctx).With("tenant_id", tenant.ID))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimit applies the tenant's tier limit, or the anonymous limit keyed
// by source IP.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		var (
			key  string
			rule ratelimit.Rule
		)
		if tenant := tenantFromContext(r.Context()); tenant != nil {
			key = ratelimit.TenantKey(tenant.ID.String())
			rule = s.tiers.Rule(tenant.Tier)
		} else {
			key = ratelimit.IPKey(s.clientIP(r))
			rule = s.tiers.Rule(ratelimit.AnonymousTier)
		}

		result := s.limiter.Check(r.Context(), key, rule.MaxRequests, rule.Window)

		w.Header().Set(headerRateLimitLimit, strconv.Itoa(result.Limit))
		w.Header().Set(headerRateLimitRemaining, strconv.Itoa(result.Remaining))

		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(rule.Window.Seconds())))
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, r, http.StatusForbidden, "admin_disabled", "job administration is not configured")
			return
		}

		token := r.Header.Get(headerAdminToken)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, r, http.StatusUnauthorized, "invalid_admin_token", "admin token is missing or wrong")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP is the peer address, unless the peer is a trusted proxy. Then
// X-Forwarded-For is walked from the right and the first hop that is not a
// trusted proxy is the client.
func (s *Server) clientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}

	if !s.trustedProxy(peer) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !s.trustedProxy(hop) {
			return hop
		}
	}

	return peer
}

func (s *Server) trustedProxy(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, prefix := range s.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
