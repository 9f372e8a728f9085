// Package zone holds the hot corner state: the four corner actions and the
// transient zone-detected flag. It is the single source of truth shared by
// the D-Bus dispatcher, the settings watcher and the HTTP API.
package zone

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/linuxdeepin/dde-zone/internal/events"
	"github.com/linuxdeepin/dde-zone/internal/settings"
)

// State guards the corner actions with a single RWMutex. Actions are
// persisted through the backend; the detected flag never is.
type State struct {
	mu       sync.RWMutex
	backend  settings.Backend
	bus      *events.Bus
	detected bool
	actions  [len(Corners)]string
	// unloaded marks corners whose stored value could not be read. Save
	// leaves them alone until something assigns them a value.
	unloaded [len(Corners)]bool

	closeOnce sync.Once
	closeErr  error
}

// Snapshot is a point-in-time copy of the state, keyed by settings key.
type Snapshot struct {
	Detected bool              `json:"detected"`
	Corners  map[string]string `json:"corners"`
}

// New creates the state and loads it from backend. The returned State is
// always usable: if loading fails the error wraps ErrUnavailable and the
// affected corners keep their empty defaults, leaving the caller to decide
// whether that is fatal. bus may be nil.
func New(backend settings.Backend, bus *events.Bus) (*State, error) {
	s := &State{
		backend: backend,
		bus:     bus,
	}
	return s, s.Load()
}

// Load reads all four actions from the backend. Every key is attempted;
// keys that fail keep their current value and are skipped by Save.
func (s *State) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, c := range Corners {
		v, err := s.backend.GetString(c.Key())
		if err != nil {
			errs = append(errs, &ConfigError{Op: "load", Key: c.Key(), Err: ErrUnavailable, Cause: err})
			s.unloaded[c] = true
			continue
		}
		s.actions[c] = v
		s.unloaded[c] = false
	}
	if len(errs) == 0 {
		slog.Debug("zone: loaded actions", "actions", s.actions)
	}
	return errors.Join(errs...)
}

// Save writes the four actions back. It is best effort: a rejected key does
// not stop the remaining writes, and every failure is reported. Corners that
// failed to load and were never set since are not written.
func (s *State) Save() error {
	s.mu.RLock()
	actions, unloaded := s.actions, s.unloaded
	s.mu.RUnlock()

	var errs []error
	for _, c := range Corners {
		if unloaded[c] {
			slog.Debug("zone: not saving unloaded action", "key", c.Key())
			continue
		}
		if err := s.backend.SetString(c.Key(), actions[c]); err != nil {
			errs = append(errs, &ConfigError{Op: "save", Key: c.Key(), Err: ErrWriteRejected, Cause: err})
		}
	}
	if f, ok := s.backend.(settings.Flusher); ok {
		if err := f.Flush(); err != nil {
			errs = append(errs, &ConfigError{Op: "flush", Err: ErrWriteRejected, Cause: err})
		}
	}
	return errors.Join(errs...)
}

// Close saves the state exactly once. Later calls return the first result.
func (s *State) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.Save()
		if s.closeErr != nil {
			slog.Warn("zone: failed to persist actions", "err", s.closeErr)
			return
		}
		slog.Info("zone: actions saved")
	})
	return s.closeErr
}

// Action returns the action bound to c.
func (s *State) Action(c Corner) string {
	if !c.valid() {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actions[c]
}

// SetAction binds action to c. Any string, including empty, is accepted.
func (s *State) SetAction(c Corner, action string) {
	if !c.valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unloaded[c] = false
	if s.actions[c] == action {
		return
	}
	s.actions[c] = action
	s.publish(events.Event{Kind: events.KindAction, Key: c.Key(), Action: action, Detected: s.detected})
}

// Detected reports whether a corner-trigger zone is currently detected.
func (s *State) Detected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detected
}

// SetDetected updates the transient detection flag.
func (s *State) SetDetected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detected == v {
		return
	}
	s.detected = v
	s.publish(events.Event{Kind: events.KindDetected, Detected: v})
}

// ApplyExternal records a value another process wrote to the backend.
// It returns false for keys outside the schema.
func (s *State) ApplyExternal(key, action string) bool {
	c, ok := CornerForKey(key)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unloaded[c] = false
	if s.actions[c] == action {
		return true
	}
	slog.Info("zone: action changed externally", "corner", c, "action", action)
	s.actions[c] = action
	s.publish(events.Event{Kind: events.KindReload, Key: key, Action: action, Detected: s.detected})
	return true
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Detected: s.detected, Corners: make(map[string]string, len(Corners))}
	for _, c := range Corners {
		snap.Corners[c.Key()] = s.actions[c]
	}
	return snap
}

// publish must be called with s.mu held so events leave in mutation order.
func (s *State) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}
