// Package settings provides the configuration backends that persist the
// hot corner actions under the com.deepin.dde.zone schema.
package settings

import (
	"context"
	"errors"
)

// Schema keys for the four corners.
const (
	KeyLeftUp    = "left-up"
	KeyRightUp   = "right-up"
	KeyLeftDown  = "left-down"
	KeyRightDown = "right-down"
)

// ZoneSchemaID is the settings schema holding the corner actions.
const ZoneSchemaID = "com.deepin.dde.zone"

var (
	ErrUnknownKey  = errors.New("settings: unknown key")
	ErrUnavailable = errors.New("settings: backend unavailable")
	ErrCorrupt     = errors.New("settings: corrupt settings file")
	ErrRejected    = errors.New("settings: write rejected")
)

// Schema describes a fixed set of string keys and their default values.
type Schema struct {
	ID       string
	Keys     []string
	Defaults map[string]string
}

// ZoneSchema is the schema used by the zone service. Every key defaults to
// the empty action.
var ZoneSchema = Schema{
	ID:   ZoneSchemaID,
	Keys: []string{KeyLeftUp, KeyRightUp, KeyLeftDown, KeyRightDown},
}

// Has reports whether key belongs to the schema.
func (s Schema) Has(key string) bool {
	for _, k := range s.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Default returns the schema default for key.
func (s Schema) Default(key string) string {
	return s.Defaults[key]
}

// Backend reads and writes string keys of a single schema.
type Backend interface {
	// GetString returns the stored value, or the schema default if the key
	// was never written.
	GetString(key string) (string, error)

	// SetString stores a value. Backends may defer the actual write until
	// Flush.
	SetString(key, value string) error
}

// Watcher is implemented by backends that can report changes made by other
// processes (for example the control center writing the same schema).
// Watch blocks until ctx is cancelled and calls fn once per changed key.
type Watcher interface {
	Watch(ctx context.Context, fn func(key, value string)) error
}

// Flusher is implemented by backends that buffer writes.
type Flusher interface {
	Flush() error
}
