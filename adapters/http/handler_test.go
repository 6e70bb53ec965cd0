package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bracketai/usagegate/adapters/clock"
	"github.com/bracketai/usagegate/adapters/idgen"
	"github.com/bracketai/usagegate/app"
	"github.com/bracketai/usagegate/domain/identity"
	"github.com/bracketai/usagegate/domain/logrec"
	"github.com/bracketai/usagegate/domain/source"
	"github.com/bracketai/usagegate/domain/usage"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// fakeVerifier accepts exactly one token value.
type fakeVerifier struct {
	accept string
	err    error
}

func (f fakeVerifier) Verify(ctx context.Context, creds identity.Credentials) (identity.Identity, error) {
	if f.err != nil {
		return identity.Identity{}, f.err
	}
	if creds.Empty() {
		return identity.Identity{}, identity.NewAuthError(identity.ReasonMissingCredentials, nil)
	}
	if creds.Token != f.accept {
		return identity.Identity{}, identity.NewAuthError(identity.ReasonBadSignature, errors.New("unexpected token"))
	}
	return identity.Identity{Subject: "user@example.com", Audience: "usage-dashboard"}, nil
}

// countingSource tracks fetches so tests can assert the gate short-circuits
// before any log-store work.
type countingSource struct {
	fetches int32
	records []logrec.Raw
	err     error
}

func (c *countingSource) Fetch(ctx context.Context, w usage.Window, limit int) ([]logrec.Raw, error) {
	atomic.AddInt32(&c.fetches, 1)
	if c.err != nil {
		return nil, c.err
	}
	var out []logrec.Raw
	for _, r := range c.records {
		if w.Contains(r.IngestTime) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *countingSource) Name() string { return "counting" }

type rawAliases struct{}

func (rawAliases) Resolve(clientID string) string { return clientID }
func (rawAliases) Reload() error                  { return nil }

func newTestRouter(t *testing.T, src *countingSource, verifier fakeVerifier, limiter *rate.Limiter) http.Handler {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC))
	cache := app.NewReportCache(clk, time.Minute, time.Minute)
	reports := app.NewReportService(src, rawAliases{}, cache, clk, zerolog.Nop(), nil, app.ReportConfig{
		DefaultWindowHours: 24,
		EventLimit:         10000,
	})

	return NewRouter(Deps{
		Reports:       reports,
		Verifier:      verifier,
		IDs:           idgen.NewSequential("req-"),
		Logger:        zerolog.Nop(),
		Metrics:       nil,
		AccessEnabled: true,
		SkipPaths:     []string{"/health"},
		RateLimit:     limiter,
	})
}

func doRequest(router http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(headerAssertion, token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestHealthBypassesGate(t *testing.T) {
	src := &countingSource{}
	router := newTestRouter(t, src, fakeVerifier{accept: "good"}, nil)

	rec := doRequest(router, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Errorf("Status = %q", body.Status)
	}
}

func TestUsageRejectsMissingCredentials(t *testing.T) {
	src := &countingSource{}
	router := newTestRouter(t, src, fakeVerifier{accept: "good"}, nil)

	rec := doRequest(router, "/usage", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Code != string(identity.ReasonMissingCredentials) {
		t.Errorf("error code = %q", detail.Code)
	}

	// Rejection happens before any aggregation work.
	if got := atomic.LoadInt32(&src.fetches); got != 0 {
		t.Errorf("source fetched %d times for unauthenticated request", got)
	}
}

func TestUsageRejectsBadToken(t *testing.T) {
	src := &countingSource{}
	router := newTestRouter(t, src, fakeVerifier{accept: "good"}, nil)

	rec := doRequest(router, "/usage", "forged")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got := atomic.LoadInt32(&src.fetches); got != 0 {
		t.Errorf("source fetched %d times for rejected request", got)
	}
}

func TestUsageUnreachableKeysetIs503(t *testing.T) {
	src := &countingSource{}
	verifier := fakeVerifier{err: identity.NewAuthError(identity.ReasonUnreachableKeyset, errors.New("provider down"))}
	router := newTestRouter(t, src, verifier, nil)

	rec := doRequest(router, "/usage", "any")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Code != string(identity.ReasonUnreachableKeyset) {
		t.Errorf("error code = %q", detail.Code)
	}
}

func TestUsageHappyPath(t *testing.T) {
	now := time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)
	inWindow := now.Add(-time.Hour)
	src := &countingSource{records: []logrec.Raw{
		{
			Message:    "ts=" + inWindow.Format(time.RFC3339) + " client=acme path=/v1/infer status=200",
			IngestTime: inWindow,
		},
		{
			Message:    "ts=" + inWindow.Format(time.RFC3339) + " client=acme path=/v1/infer status=500",
			IngestTime: inWindow,
		},
	}}
	router := newTestRouter(t, src, fakeVerifier{accept: "good"}, nil)

	rec := doRequest(router, "/usage", "good")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var body UsageResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Clients) != 1 {
		t.Fatalf("clients = %d, want 1", len(body.Clients))
	}
	if body.Clients[0].RequestCount != 2 || body.Clients[0].ErrorCount != 1 {
		t.Errorf("stats = %+v", body.Clients[0])
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Error("response missing request ID header")
	}
}

func TestUsageBadWindowHours(t *testing.T) {
	src := &countingSource{}
	router := newTestRouter(t, src, fakeVerifier{accept: "good"}, nil)

	for _, raw := range []string{"abc", "-1", "0", "1.5"} {
		rec := doRequest(router, "/usage?window_hours="+raw, "good")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("window_hours=%q: status = %d, want 400", raw, rec.Code)
		}
	}
	if got := atomic.LoadInt32(&src.fetches); got != 0 {
		t.Errorf("source fetched %d times for invalid requests", got)
	}
}

func TestUsageSourceFailureIs502(t *testing.T) {
	src := &countingSource{err: source.NewError(source.Transient, "query page", errors.New("store down"))}
	router := newTestRouter(t, src, fakeVerifier{accept: "good"}, nil)

	rec := doRequest(router, "/usage", "good")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Code != "log_store_unavailable" {
		t.Errorf("error code = %q", detail.Code)
	}
}

func TestRateLimit(t *testing.T) {
	src := &countingSource{}
	// Zero-rate limiter rejects everything.
	router := newTestRouter(t, src, fakeVerifier{accept: "good"}, rate.NewLimiter(0, 0))

	rec := doRequest(router, "/usage", "good")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Code != "rate_limited" {
		t.Errorf("error code = %q", detail.Code)
	}
}

func TestExtractCredentials(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/usage", nil)
	req.Header.Set(headerServiceID, "svc-id")
	req.Header.Set(headerServiceSecret, "svc-secret")
	creds := extractCredentials(req)
	if creds.ServiceID != "svc-id" || creds.ServiceSecret != "svc-secret" {
		t.Errorf("creds = %+v", creds)
	}

	// Bearer token fallback when no assertion header is present.
	req = httptest.NewRequest(http.MethodGet, "/usage", nil)
	req.Header.Set("Authorization", "Bearer tok123")
	if creds := extractCredentials(req); creds.Token != "tok123" {
		t.Errorf("Token = %q, want tok123", creds.Token)
	}

	// The assertion header wins over Authorization.
	req = httptest.NewRequest(http.MethodGet, "/usage", nil)
	req.Header.Set(headerAssertion, "assert456")
	req.Header.Set("Authorization", "Bearer tok123")
	if creds := extractCredentials(req); creds.Token != "assert456" {
		t.Errorf("Token = %q, want assert456", creds.Token)
	}
}
