package logstore

import (
	"context"
	"sync"

	"github.com/bracketai/usagegate/domain/logrec"
	"github.com/bracketai/usagegate/domain/usage"
	"github.com/bracketai/usagegate/ports"
)

// Fixture is an in-memory LogSource for environments without remote
// credentials and for tests. Records are filtered by ingest time against
// the requested window.
type Fixture struct {
	mu      sync.RWMutex
	records []logrec.Raw
}

// NewFixture creates a fixture source seeded with the given records.
func NewFixture(records ...logrec.Raw) *Fixture {
	return &Fixture{records: append([]logrec.Raw{}, records...)}
}

// Name identifies the fixture source for cache keying.
func (f *Fixture) Name() string {
	return "fixture"
}

// Add appends records to the fixture.
func (f *Fixture) Add(records ...logrec.Raw) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, records...)
}

// Fetch returns up to limit records whose ingest time falls inside w.
func (f *Fixture) Fetch(ctx context.Context, w usage.Window, limit int) ([]logrec.Raw, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	matched := make([]logrec.Raw, 0, len(f.records))
	for _, r := range f.records {
		if len(matched) >= limit {
			break
		}
		if w.Contains(r.IngestTime) {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

// Ensure interface compliance.
var _ ports.LogSource = (*Fixture)(nil)
