// Package logrec provides raw access-log records and their parsing into
// usage events. Parsing is pure and tolerant: a malformed record is a skip,
// never an error that aborts a run.
package logrec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bracketai/usagegate/domain/usage"
)

// Raw is one opaque record as returned by a log store.
type Raw struct {
	// Message is the structured (tag-delimited) payload emitted by the
	// gateway, e.g.
	//   ts=2024-06-01T12:00:00Z client=acme method=GET path=/v1/infer status=200 latency_ms=41.5
	Message string

	// IngestTime is when the store received the record. Informational only;
	// the authoritative event time is the ts tag inside Message.
	IngestTime time.Time
}

// ErrSkip marks a record that could not be parsed. It never escapes the
// aggregation pipeline: callers count skips and continue the run.
var ErrSkip = errors.New("skip record")

// Parse turns one raw record into a usage event.
//
// Required tags are ts, path and status; a record missing any of them, or
// whose timestamp cannot be resolved to a UTC instant, is skipped. A missing
// client tag is tolerated and recorded as the unknown-client sentinel.
func Parse(r Raw) (usage.Event, error) {
	fields := strings.Fields(r.Message)
	if len(fields) == 0 {
		return usage.Event{}, fmt.Errorf("%w: empty message", ErrSkip)
	}

	tags := make(map[string]string, len(fields))
	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return usage.Event{}, fmt.Errorf("%w: not tag-delimited: %q", ErrSkip, f)
		}
		tags[key] = value
	}

	rawTS, ok := tags["ts"]
	if !ok {
		return usage.Event{}, fmt.Errorf("%w: missing ts tag", ErrSkip)
	}
	ts, err := parseTimestamp(rawTS)
	if err != nil {
		return usage.Event{}, fmt.Errorf("%w: bad timestamp %q", ErrSkip, rawTS)
	}

	path, ok := tags["path"]
	if !ok || path == "" {
		return usage.Event{}, fmt.Errorf("%w: missing path tag", ErrSkip)
	}

	rawStatus, ok := tags["status"]
	if !ok {
		return usage.Event{}, fmt.Errorf("%w: missing status tag", ErrSkip)
	}
	status, err := strconv.Atoi(rawStatus)
	if err != nil {
		return usage.Event{}, fmt.Errorf("%w: bad status %q", ErrSkip, rawStatus)
	}

	event := usage.Event{
		Timestamp:  ts,
		ClientID:   tags["client"],
		Path:       path,
		StatusCode: status,
	}
	if event.ClientID == "" {
		event.ClientID = usage.UnknownClient
	}

	if rawLatency, ok := tags["latency_ms"]; ok {
		if latency, err := strconv.ParseFloat(rawLatency, 64); err == nil {
			event.LatencyMs = &latency
		}
	}

	return event, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	// Epoch seconds, as emitted by some gateway stages.
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
