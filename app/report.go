package app

import (
	"context"
	"errors"

	"github.com/bracketai/usagegate/adapters/metrics"
	"github.com/bracketai/usagegate/domain/logrec"
	"github.com/bracketai/usagegate/domain/usage"
	"github.com/bracketai/usagegate/ports"
	"github.com/rs/zerolog"
)

// ReportConfig configures the report service.
type ReportConfig struct {
	// DefaultWindowHours is used when a request does not specify a window.
	DefaultWindowHours int
	// EventLimit caps how many raw records one aggregation run may fetch.
	EventLimit int
}

// ReportService produces per-client usage reports for a time window:
// cache lookup, then on miss fetch -> parse -> fold -> store, then alias
// annotation on the way out. Display names are applied after the cache so
// cached results always reflect the current alias map.
type ReportService struct {
	source  ports.LogSource
	aliases ports.AliasResolver
	cache   *ReportCache
	clock   ports.Clock
	logger  zerolog.Logger
	metrics *metrics.Collector
	cfg     ReportConfig
}

// NewReportService creates a report service. The metrics collector may be
// nil when metrics are disabled.
func NewReportService(
	src ports.LogSource,
	aliases ports.AliasResolver,
	cache *ReportCache,
	clk ports.Clock,
	logger zerolog.Logger,
	m *metrics.Collector,
	cfg ReportConfig,
) *ReportService {
	if cfg.DefaultWindowHours <= 0 {
		cfg.DefaultWindowHours = 24
	}
	if cfg.EventLimit <= 0 {
		cfg.EventLimit = 10000
	}
	return &ReportService{
		source:  src,
		aliases: aliases,
		cache:   cache,
		clock:   clk,
		logger:  logger.With().Str("component", "report").Logger(),
		metrics: m,
		cfg:     cfg,
	}
}

// Usage returns the aggregated usage report for a window of windowHours
// ending now. A non-positive windowHours selects the configured default.
func (s *ReportService) Usage(ctx context.Context, windowHours int) (usage.Report, error) {
	if windowHours <= 0 {
		windowHours = s.cfg.DefaultWindowHours
	}
	window := usage.WindowEndingAt(s.clock.Now(), windowHours)
	key := s.source.Name() + "|" + window.Key()

	report, hit, err := s.cache.GetOrCompute(ctx, key, func(ctx context.Context) (usage.Report, error) {
		return s.compute(ctx, window)
	})
	if err != nil {
		return usage.Report{}, err
	}

	if s.metrics != nil {
		if hit {
			s.metrics.CacheHits.Inc()
		} else {
			s.metrics.CacheMisses.Inc()
		}
	}

	return s.annotate(report), nil
}

// compute runs the full aggregation pipeline for one window.
func (s *ReportService) compute(ctx context.Context, window usage.Window) (usage.Report, error) {
	records, err := s.source.Fetch(ctx, window, s.cfg.EventLimit)
	if err != nil {
		return usage.Report{}, err
	}

	events := make([]usage.Event, 0, len(records))
	var skipped int64
	for _, record := range records {
		event, err := logrec.Parse(record)
		if err != nil {
			if errors.Is(err, logrec.ErrSkip) {
				skipped++
				s.logger.Debug().Err(err).Msg("skipping malformed record")
				continue
			}
			return usage.Report{}, err
		}
		events = append(events, event)
	}

	if s.metrics != nil {
		s.metrics.RecordsParsed.Add(float64(len(events)))
		s.metrics.RecordsSkipped.Add(float64(skipped))
	}

	report := usage.Fold(events, window)
	report.GeneratedAt = s.clock.Now()
	report.SkippedRecords = skipped

	s.logger.Info().
		Str("window", window.Key()).
		Int("events", len(events)).
		Int64("skipped", skipped).
		Int("clients", len(report.Clients)).
		Msg("aggregation run complete")
	return report, nil
}

// annotate applies display names to a copy of the report's client list.
// The cached report itself is never mutated.
func (s *ReportService) annotate(report usage.Report) usage.Report {
	clients := make([]usage.ClientStats, len(report.Clients))
	copy(clients, report.Clients)
	for i := range clients {
		clients[i].DisplayName = s.aliases.Resolve(clients[i].ClientID)
	}
	report.Clients = clients
	return report
}
