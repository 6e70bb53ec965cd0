// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/bracketai/usagegate/domain/identity"
	"github.com/bracketai/usagegate/domain/logrec"
	"github.com/bracketai/usagegate/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers (request IDs).
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// LogSource produces raw access-log records for a time window.
// A fetch is finite and restartable; record ordering is not guaranteed.
type LogSource interface {
	// Fetch returns up to limit raw records whose event time falls inside w.
	// A mid-fetch failure fails the whole call with a *source.Error; partial
	// results are never returned as a success.
	Fetch(ctx context.Context, w usage.Window, limit int) ([]logrec.Raw, error)

	// Name identifies the source variant and its parameters. It
	// discriminates cache keys between sources.
	Name() string
}

// Verifier validates inbound credentials against the identity provider.
type Verifier interface {
	// Verify returns the verified identity or a *identity.AuthError.
	Verify(ctx context.Context, creds identity.Credentials) (identity.Identity, error)
}

// AliasResolver maps raw client identifiers to display names.
type AliasResolver interface {
	// Resolve returns the display name for a client ID, or the raw ID when
	// unmapped. Reads see a consistent snapshot and never block on reloads.
	Resolve(clientID string) string

	// Reload replaces the alias map atomically. On failure the previous map
	// stays in effect and a *alias.ConfigError is returned.
	Reload() error
}
