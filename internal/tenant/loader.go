// Package tenant loads per-tenant call configuration bundles from YAML files
// and optionally hot-reloads them when the directory changes.
package tenant

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the opaque per-call configuration bundle supplied by the
// business-lookup side of the platform. The gateway only interprets the
// recognized fields below.
type Config struct {
	Name                string `yaml:"name"`
	PersonaInstructions string `yaml:"persona_instructions"`
	Greeting            string `yaml:"greeting"`
	VoiceID             string `yaml:"voice_id"`
}

// Loader loads tenant configs from a directory, one YAML file per tenant,
// keyed by the file's name field (or its base filename).
type Loader struct {
	dir string

	mu      sync.RWMutex
	tenants map[string]*Config
}

// NewLoader creates a loader for the given directory.
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:     dir,
		tenants: make(map[string]*Config),
	}
}

// LoadAll loads all .yaml and .yml files from the configured directory.
func (l *Loader) LoadAll() (map[string]*Config, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read tenant dir %q: %w", l.dir, err)
	}

	result := make(map[string]*Config)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		cfg, err := l.loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %q: %w", path, err)
		}
		result[cfg.Name] = cfg
	}

	l.mu.Lock()
	l.tenants = result
	l.mu.Unlock()

	return result, nil
}

// Get returns a tenant config by name.
func (l *Loader) Get(name string) (*Config, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg, ok := l.tenants[name]
	return cfg, ok
}

// Resolve returns the config for the given tenant, falling back to the
// named default when the tenant is unknown or empty. A nil return means
// neither exists; callers should proceed with built-in defaults.
func (l *Loader) Resolve(name, fallback string) *Config {
	if name != "" {
		if cfg, ok := l.Get(name); ok {
			return cfg
		}
	}
	if cfg, ok := l.Get(fallback); ok {
		return cfg
	}
	return nil
}

func (l *Loader) loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	if cfg.Name == "" {
		base := filepath.Base(path)
		cfg.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	return &cfg, nil
}

// WatchAndReload watches the tenant directory and reloads on changes.
// Blocks until the done channel is closed.
func (l *Loader) WatchAndReload(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", l.dir, err)
	}

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				ext := filepath.Ext(event.Name)
				if ext == ".yaml" || ext == ".yml" {
					if _, err := l.LoadAll(); err != nil {
						slog.Warn("tenant reload failed",
							slog.String("path", event.Name),
							slog.String("error", err.Error()))
					}
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
