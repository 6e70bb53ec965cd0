// Package logstore provides LogSource implementations: a remote paginated
// log-store client and an in-memory fixture for environments without
// remote credentials.
package logstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/bracketai/usagegate/adapters/metrics"
	"github.com/bracketai/usagegate/domain/logrec"
	"github.com/bracketai/usagegate/domain/source"
	"github.com/bracketai/usagegate/domain/usage"
	"github.com/bracketai/usagegate/ports"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// RemoteConfig configures the remote log-store client.
type RemoteConfig struct {
	BaseURL  string
	LogGroup string
	Region   string
	PageSize int
	Timeout  time.Duration // per page request
	Retries  uint          // additional attempts per page on transient failure
}

// Remote queries an external log store over HTTP, paginating by next_token
// until the requested limit or the window is exhausted. Transient page
// failures are retried with exponential backoff; a circuit breaker fails
// fast while the store is down. A failure mid-pagination fails the whole
// fetch - partial results are never returned as a success.
type Remote struct {
	cfg        RemoteConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     zerolog.Logger
	metrics    *metrics.Collector
}

// NewRemote creates a remote log source.
func NewRemote(cfg RemoteConfig, logger zerolog.Logger, m *metrics.Collector) *Remote {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retries == 0 {
		cfg.Retries = 2
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "logstore",
		Interval: 30 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Remote{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		logger:     logger.With().Str("component", "logstore").Logger(),
		metrics:    m,
	}
}

// Name identifies this source and its query parameters for cache keying.
func (r *Remote) Name() string {
	return fmt.Sprintf("remote:%s:%s", r.cfg.Region, r.cfg.LogGroup)
}

// queryRequest is the wire format of one log-store page query.
type queryRequest struct {
	LogGroup  string `json:"log_group"`
	Region    string `json:"region,omitempty"`
	StartTime int64  `json:"start_time"` // milliseconds since epoch, inclusive
	EndTime   int64  `json:"end_time"`   // milliseconds since epoch, exclusive
	Limit     int    `json:"limit"`
	NextToken string `json:"next_token,omitempty"`
}

// queryResponse is one page of results.
type queryResponse struct {
	Records []struct {
		Message    string `json:"message"`
		IngestTime int64  `json:"ingest_time"`
	} `json:"records"`
	NextToken string `json:"next_token"`
}

// Fetch retrieves raw records for the window, up to limit.
func (r *Remote) Fetch(ctx context.Context, w usage.Window, limit int) ([]logrec.Raw, error) {
	start := time.Now()
	records := make([]logrec.Raw, 0, min(limit, r.cfg.PageSize))
	nextToken := ""

	for {
		remaining := limit - len(records)
		if remaining <= 0 {
			break
		}

		page, err := r.fetchPage(ctx, w, min(remaining, r.cfg.PageSize), nextToken)
		if err != nil {
			return nil, err
		}

		if r.metrics != nil {
			r.metrics.SourcePages.Inc()
		}
		for _, rec := range page.Records {
			records = append(records, logrec.Raw{
				Message:    rec.Message,
				IngestTime: time.UnixMilli(rec.IngestTime).UTC(),
			})
		}

		// A short page with a token means the store is still scanning the
		// range; keep going. Only an absent token ends the fetch.
		if page.NextToken == "" {
			break
		}
		nextToken = page.NextToken
	}

	if r.metrics != nil {
		r.metrics.FetchDuration.WithLabelValues("remote").Observe(time.Since(start).Seconds())
	}
	r.logger.Debug().
		Int("records", len(records)).
		Str("window", w.Key()).
		Msg("log store fetch complete")
	return records, nil
}

// fetchPage requests one page, retrying transient failures with exponential
// backoff behind the circuit breaker.
func (r *Remote) fetchPage(ctx context.Context, w usage.Window, limit int, nextToken string) (*queryResponse, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		var page *queryResponse

		retrier := retry.New(
			retry.Context(ctx),
			retry.Attempts(r.cfg.Retries+1),
			retry.Delay(200*time.Millisecond),
			retry.DelayType(retry.BackOffDelay),
			retry.OnRetry(func(n uint, err error) {
				if r.metrics != nil {
					r.metrics.SourceRetries.Inc()
				}
				r.logger.Warn().Err(err).Uint("attempt", n+1).Msg("retrying log store page")
			}),
		)

		retryErr := retrier.Do(func() error {
			var callErr error
			page, callErr = r.queryOnce(ctx, w, limit, nextToken)
			if callErr != nil && !source.IsTransient(callErr) {
				return retry.Unrecoverable(callErr)
			}
			return callErr
		})
		return page, retryErr
	})
	if err != nil {
		var se *source.Error
		if errors.As(err, &se) {
			return nil, se
		}
		// Breaker open or retries exhausted on a wrapped cause.
		return nil, source.NewError(source.Transient, "query page", err)
	}
	return result.(*queryResponse), nil
}

// queryOnce performs a single page request with a bounded timeout.
func (r *Remote) queryOnce(ctx context.Context, w usage.Window, limit int, nextToken string) (*queryResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(queryRequest{
		LogGroup:  r.cfg.LogGroup,
		Region:    r.cfg.Region,
		StartTime: w.Start.UnixMilli(),
		EndTime:   w.End.UnixMilli(),
		Limit:     limit,
		NextToken: nextToken,
	})
	if err != nil {
		return nil, source.NewError(source.Permanent, "marshal query", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.cfg.BaseURL+"/v1/logs/query", bytes.NewReader(body))
	if err != nil {
		return nil, source.NewError(source.Permanent, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, source.NewError(source.Transient, "query page", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		kind := source.Permanent
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = source.Transient
		}
		return nil, source.NewError(kind, "query page",
			fmt.Errorf("log store returned %d: %s", resp.StatusCode, respBody))
	}

	var page queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, source.NewError(source.Transient, "decode page", err)
	}
	return &page, nil
}

// Ensure interface compliance.
var _ ports.LogSource = (*Remote)(nil)
