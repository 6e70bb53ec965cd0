// Package alias provides the client-alias map value type and the
// configuration error taxonomy for its reload path.
package alias

import "fmt"

// Map maps raw client identifiers to display names. A Map is an immutable
// snapshot: resolvers swap whole maps atomically, never mutate one in place.
type Map map[string]string

// Resolve returns the display name for id, falling back to the raw id when
// unmapped or mapped to an empty name.
func (m Map) Resolve(id string) string {
	if name, ok := m[id]; ok && name != "" {
		return name
	}
	return id
}

// ConfigReason classifies alias-map reload failures.
type ConfigReason string

const (
	ReasonUnreadable ConfigReason = "unreadable"
	ReasonMalformed  ConfigReason = "malformed"
)

// ConfigError is a failed alias-map load. The previously loaded map stays
// in effect; the resolver never degrades to an empty map.
type ConfigError struct {
	Reason ConfigReason
	Path   string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("alias map %s (%s): %v", e.Reason, e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
