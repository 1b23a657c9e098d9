package authoring

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/eraflo/FallGuys/internal/behavior"
	"github.com/eraflo/FallGuys/internal/telemetry"
)

// Library keeps a catalog in sync with a directory of documents.
type Library struct {
	dir     string
	reg     *Registry
	catalog *behavior.Catalog
	logger  telemetry.Logger

	mu    sync.Mutex
	paths map[string]string
}

// NewLibrary binds dir to catalog. Documents are compiled against reg.
func NewLibrary(dir string, reg *Registry, catalog *behavior.Catalog, logger telemetry.Logger) *Library {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Library{
		dir:     dir,
		reg:     reg,
		catalog: catalog,
		logger:  logger,
		paths:   make(map[string]string),
	}
}

// Catalog returns the catalog the library writes to.
func (l *Library) Catalog() *behavior.Catalog { return l.catalog }

// LoadAll compiles every document in the directory in lexical order. Bad
// documents are skipped and their errors joined; good ones are still loaded.
func (l *Library) LoadAll() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("authoring: read %s: %w", l.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := FormatOf(entry.Name()); ok {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := l.Reload(filepath.Join(l.dir, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reload recompiles the document at path, or removes its definition when the
// file is gone. A document that fails to compile leaves the previous
// definition in place.
func (l *Library) Reload(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if key, ok := l.paths[path]; ok {
			l.catalog.Remove(key)
			delete(l.paths, path)
			l.logger.Printf("[authoring] removed %s (%s)", key, path)
		}
		return nil
	}
	if err != nil {
		return err
	}
	def, err := Compile(doc, l.reg)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if owner, ok := l.owner(def.Key()); ok && owner != path {
		return fmt.Errorf("%s: logic key %q already defined by %s", path, def.Key(), owner)
	}
	if previous, ok := l.paths[path]; ok && previous != def.Key() {
		l.catalog.Remove(previous)
	}
	l.paths[path] = def.Key()
	if l.catalog.Put(def) {
		l.logger.Printf("[authoring] reloaded %s from %s", def.Key(), path)
	} else {
		l.logger.Printf("[authoring] loaded %s from %s", def.Key(), path)
	}
	return nil
}

func (l *Library) owner(key string) (string, bool) {
	for path, k := range l.paths {
		if k == key {
			return path, true
		}
	}
	return "", false
}

// Watch reloads documents as they change until ctx is cancelled.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := NewWatcher(l.dir)
	if err != nil {
		return fmt.Errorf("authoring: watch %s: %w", l.dir, err)
	}
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case path, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if err := l.Reload(path); err != nil {
				l.logger.Printf("[authoring] reload failed: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Printf("[authoring] watcher error: %v", err)
		}
	}
}
