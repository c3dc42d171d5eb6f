package crawler

import (
	"context"
	"crawlytics/internal/metrics"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Holder owns the live Registry. Readers take a Snapshot; writers swap in
// a freshly built Registry, so in-flight jobs never observe an update.
type Holder struct {
	current atomic.Pointer[Registry]

	path string
	mu   sync.Mutex // serialises Update/Reset and file writes
	log  *logrus.Entry
}

// NewHolder creates a holder backed by an optional patterns file.
// If the file exists it is loaded, otherwise the defaults are used.
func NewHolder(path string, logger *logrus.Entry) (*Holder, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	h := &Holder{
		path: path,
		log:  logger.WithField("component", "crawler"),
	}

	tax := DefaultTaxonomy()
	if path != "" {
		loaded, err := LoadFile(path)
		switch {
		case err == nil:
			tax = loaded
		case os.IsNotExist(err):
			h.log.Infof("Patterns file %s not found, using defaults", path)
		default:
			return nil, err
		}
	}

	h.current.Store(New(tax))
	return h, nil
}

// Snapshot returns the registry in effect right now
func (h *Holder) Snapshot() *Registry {
	return h.current.Load()
}

// Update replaces the taxonomy and persists it when a file is configured
func (h *Holder) Update(t Taxonomy) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.path != "" {
		if err := SaveFile(h.path, t); err != nil {
			return err
		}
	}
	h.current.Store(New(t))
	metrics.PatternReloads.Inc()
	h.log.WithField("patterns", len(t.Patterns())).Info("Crawler patterns updated")
	return nil
}

// Reset restores the built-in taxonomy
func (h *Holder) Reset() error {
	return h.Update(DefaultTaxonomy())
}

// Watch reloads the patterns file whenever it changes on disk until ctx
// is done. A file that fails to load leaves the current registry in place.
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	// Editors and SaveFile replace the file, so watch the directory.
	dir := filepath.Dir(h.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(h.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			h.reload()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			h.log.WithError(err).Warn("Patterns watcher error")
		}
	}
}

func (h *Holder) reload() {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, err := LoadFile(h.path)
	if err != nil {
		if !os.IsNotExist(err) {
			h.log.WithError(err).Warn("Ignoring broken patterns file")
		}
		return
	}
	h.current.Store(New(t))
	metrics.PatternReloads.Inc()
	h.log.WithField("patterns", len(t.Patterns())).Info("Crawler patterns reloaded")
}

// LoadFile reads a taxonomy from a YAML patterns file
func LoadFile(path string) (Taxonomy, error) {
	f, err := os.Open(path)
	if err != nil {
		return Taxonomy{}, err
	}
	defer f.Close()

	var t Taxonomy
	if err := yaml.NewDecoder(f).Decode(&t); err != nil {
		return Taxonomy{}, fmt.Errorf("failed to decode patterns file: %w", err)
	}
	if len(t.Providers) == 0 {
		return Taxonomy{}, fmt.Errorf("patterns file %s has no providers", path)
	}
	return t, nil
}

// SaveFile writes a taxonomy atomically through a temp file in the same directory
func SaveFile(path string, t Taxonomy) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode patterns: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".patterns-*.yml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write patterns: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace patterns file: %w", err)
	}
	return nil
}
