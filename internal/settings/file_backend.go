package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"
)

const debounceDelay = 500 * time.Millisecond

// FileBackend stores a schema as a flat JSON object in
// <dir>/<schema-id>.json. Writes are debounced, atomic, and serialized with
// other processes through an flock on a sibling .lock file.
type FileBackend struct {
	mu      sync.Mutex
	schema  Schema
	path    string
	values  map[string]string
	loaded  bool
	pending map[string]bool // keys set locally but not yet written
	timer   *time.Timer
}

// NewFileBackend creates a file backend for schema in the given directory.
// Nothing is read until the first GetString or SetString.
func NewFileBackend(dir string, schema Schema) *FileBackend {
	return &FileBackend{
		schema:  schema,
		path:    filepath.Join(dir, schema.ID+".json"),
		pending: make(map[string]bool),
	}
}

// Path returns the file path used by this backend.
func (b *FileBackend) Path() string { return b.path }

// GetString returns the stored value for key. A missing file or missing key
// yields the schema default; a corrupt file yields ErrCorrupt.
func (b *FileBackend) GetString(key string) (string, error) {
	if !b.schema.Has(key) {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureLoaded(); err != nil {
		return "", err
	}
	if v, ok := b.values[key]; ok {
		return v, nil
	}
	return b.schema.Default(key), nil
}

// SetString updates key in memory and schedules a debounced write.
func (b *FileBackend) SetString(key, value string) error {
	if !b.schema.Has(key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureLoaded(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRejected, key, err)
	}
	b.values[key] = value
	b.pending[key] = true

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(debounceDelay, func() {
		if err := b.Flush(); err != nil {
			slog.Error("settings: failed to write settings", "path", b.path, "err", err)
		}
	})
	return nil
}

// Flush forces an immediate write of any pending values.
func (b *FileBackend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.writeAtomic(b.values); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	b.pending = make(map[string]bool)
	return nil
}

// Watch reports keys changed on disk by other processes until ctx is
// cancelled. Keys with unflushed local values are left alone.
func (b *FileBackend) Watch(ctx context.Context, fn func(key, value string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("settings: watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != b.path || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			changed, err := b.reload()
			if err != nil {
				slog.Warn("settings: failed to reload settings", "path", b.path, "err", err)
				continue
			}
			for _, key := range b.schema.Keys {
				if v, ok := changed[key]; ok {
					fn(key, v)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("settings: watcher error", "err", err)
		}
	}
}

// reload re-reads the file and returns the keys whose values differ from
// the in-memory copy.
func (b *FileBackend) reload() (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	disk, err := b.read()
	if err != nil {
		return nil, err
	}
	if !b.loaded {
		b.values = disk
		b.loaded = true
		return nil, nil
	}

	changed := make(map[string]string)
	for _, key := range b.schema.Keys {
		if b.pending[key] {
			continue
		}
		v, ok := disk[key]
		if !ok {
			v = b.schema.Default(key)
		}
		cur, ok := b.values[key]
		if !ok {
			cur = b.schema.Default(key)
		}
		if cur != v {
			b.values[key] = v
			changed[key] = v
		}
	}
	return changed, nil
}

// ensureLoaded reads the file on first use. Caller must hold b.mu.
func (b *FileBackend) ensureLoaded() error {
	if b.loaded {
		return nil
	}
	values, err := b.read()
	if err != nil {
		return err
	}
	b.values = values
	b.loaded = true
	return nil
}

func (b *FileBackend) read() (map[string]string, error) {
	unlock, err := b.lock(unix.LOCK_SH)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, b.path, err)
	}
	return values, nil
}

func (b *FileBackend) writeAtomic(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return err
	}

	unlock, err := b.lock(unix.LOCK_EX)
	if err != nil {
		return err
	}
	defer unlock()

	// Write to temp file, then rename (atomic on Linux)
	tmpPath := b.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, b.path)
}

// lock takes an flock on <path>.lock and returns the matching unlock.
// A missing directory means there is nothing to read yet, so shared locks
// are skipped in that case.
func (b *FileBackend) lock(how int) (func(), error) {
	f, err := os.OpenFile(b.path+".lock", os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		if how == unix.LOCK_SH && errors.Is(err, os.ErrNotExist) {
			return func() {}, nil
		}
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("settings: flock %s: %w", f.Name(), err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}

var (
	_ Backend = (*FileBackend)(nil)
	_ Watcher = (*FileBackend)(nil)
	_ Flusher = (*FileBackend)(nil)
)
