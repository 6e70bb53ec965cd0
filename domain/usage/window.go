package usage

import (
	"fmt"
	"time"
)

// Window is a half-open UTC time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds a window, enforcing start < end. Both bounds are
// normalized to UTC.
func NewWindow(start, end time.Time) (Window, error) {
	start = start.UTC()
	end = end.UTC()
	if !start.Before(end) {
		return Window{}, fmt.Errorf("window start %s must be before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return Window{Start: start, End: end}, nil
}

// WindowEndingAt returns the window of the given width ending at end.
// The end is truncated to the minute so that repeated requests within the
// same minute resolve to the same window and share cache entries.
func WindowEndingAt(end time.Time, hours int) Window {
	end = end.UTC().Truncate(time.Minute)
	return Window{Start: end.Add(-time.Duration(hours) * time.Hour), End: end}
}

// Contains reports whether t falls inside the half-open interval.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Key returns a deterministic representation suitable for cache keys.
func (w Window) Key() string {
	return w.Start.Format(time.RFC3339) + "/" + w.End.Format(time.RFC3339)
}
