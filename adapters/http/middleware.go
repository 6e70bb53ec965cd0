package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bracketai/usagegate/adapters/metrics"
	"github.com/bracketai/usagegate/domain/identity"
	"github.com/bracketai/usagegate/ports"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Header names for inbound credentials. The token may arrive as a standard
// bearer token or as the identity provider's assertion header; service
// tokens arrive as a client-id/secret header pair.
const (
	headerAssertion     = "Cf-Access-Jwt-Assertion"
	headerServiceID     = "Cf-Access-Client-Id"
	headerServiceSecret = "Cf-Access-Client-Secret"
	headerRequestID     = "X-Request-Id"
)

type contextKey string

const (
	identityKey  contextKey = "identity"
	requestIDKey contextKey = "request_id"
)

// IdentityFrom returns the verified identity stored on the request context.
func IdentityFrom(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(identityKey).(identity.Identity)
	return id, ok
}

// RequestIDFrom returns the request ID stored on the request context.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestID assigns every request a correlation ID, echoed in the response.
func requestID(ids ports.IDGenerator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerRequestID)
			if id == "" {
				id = ids.New()
			}
			w.Header().Set(headerRequestID, id)
			ctx := context.WithValue(r.Context(), requestIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestLogger logs one line per request and records request metrics.
func requestLogger(logger zerolog.Logger, m *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			logger.Info().
				Str("request_id", RequestIDFrom(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", elapsed).
				Msg("request")

			if m != nil {
				m.RequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(ww.Status())).Inc()
				m.RequestDuration.WithLabelValues(r.URL.Path).Observe(elapsed.Seconds())
			}
		})
	}
}

// rateLimit applies a process-wide request budget.
func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate_limited",
					"Too many requests. Retry later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// accessGate verifies inbound credentials before any aggregation work.
// Verification failure is terminal for the request: no cache lookup, no
// log-store call, no retry.
type accessGate struct {
	verifier  ports.Verifier
	enabled   bool
	skipPaths map[string]struct{}
	logger    zerolog.Logger
	metrics   *metrics.Collector
}

func (g *accessGate) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.enabled {
			next.ServeHTTP(w, r)
			return
		}
		if _, skip := g.skipPaths[r.URL.Path]; skip {
			next.ServeHTTP(w, r)
			return
		}

		verified, err := g.verifier.Verify(r.Context(), extractCredentials(r))
		if err != nil {
			g.reject(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, verified)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *accessGate) reject(w http.ResponseWriter, r *http.Request, err error) {
	reason := identity.ReasonBadSignature
	var authErr *identity.AuthError
	if errors.As(err, &authErr) {
		reason = authErr.Reason
	}

	g.logger.Warn().
		Str("request_id", RequestIDFrom(r.Context())).
		Str("path", r.URL.Path).
		Str("reason", string(reason)).
		Msg("request rejected")
	if g.metrics != nil {
		g.metrics.AuthFailures.WithLabelValues(string(reason)).Inc()
	}

	// A keyset outage is an upstream failure, not a definitive negative.
	if reason == identity.ReasonUnreachableKeyset {
		writeError(w, http.StatusServiceUnavailable, string(reason),
			"Identity provider unreachable. Retry later.")
		return
	}
	writeError(w, http.StatusUnauthorized, string(reason), "Unauthorized.")
}

// extractCredentials pulls credential material from the request headers.
func extractCredentials(r *http.Request) identity.Credentials {
	creds := identity.Credentials{
		ServiceID:     r.Header.Get(headerServiceID),
		ServiceSecret: r.Header.Get(headerServiceSecret),
	}

	if token := r.Header.Get(headerAssertion); token != "" {
		creds.Token = token
		return creds
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		creds.Token = strings.TrimPrefix(auth, "Bearer ")
	}
	return creds
}
