// Package usage provides usage event types and window aggregation.
// All functions are pure - no side effects.
package usage

import "time"

// UnknownClient is the sentinel client ID used when an access-log record
// carries no client identifier. It forms a valid, distinct group.
const UnknownClient = "unknown"

// Event represents a single parsed access-log record (immutable value type).
type Event struct {
	Timestamp  time.Time // UTC
	ClientID   string    // may be empty; collapsed to UnknownClient when grouping
	Path       string
	StatusCode int
	LatencyMs  *float64 // nil when the record carried no latency
}

// IsError reports whether the event counts toward ErrorCount.
func (e Event) IsError() bool {
	return e.StatusCode >= 400
}

// ClientStats holds aggregated counters for one client within a window.
// Instances are created fresh per aggregation run and never mutated after
// the run completes.
type ClientStats struct {
	ClientID     string    `json:"client_id"`
	DisplayName  string    `json:"display_name"`
	RequestCount int64     `json:"request_count"`
	ErrorCount   int64     `json:"error_count"`
	LastSeen     time.Time `json:"last_seen"`
}

// Report is the result of aggregating one window.
// Clients are ordered by RequestCount descending, ClientID ascending on ties.
type Report struct {
	Window         Window
	GeneratedAt    time.Time
	SkippedRecords int64
	Clients        []ClientStats
}
