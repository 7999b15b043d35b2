// Package catalog holds the named input sources operators pick from when
// starting a relay, together with their preview URLs.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/relaynode/internal/config"
	"github.com/smazurov/relaynode/internal/logging"
)

// Source is one catalog entry.
type Source struct {
	Name    string `toml:"name" json:"name" example:"Plex 1" doc:"Display name"`
	Input   string `toml:"input" json:"input" example:"rtmp://cdn.example.com/live/main" doc:"Input locator passed to ffmpeg"`
	Preview string `toml:"preview,omitempty" json:"preview,omitempty" example:"http://cdn.example.com:2022/live/main.m3u8" doc:"HLS preview URL"`
}

// File is the on-disk catalog.
//
//	version = 1
//
//	[[sources]]
//	name = "Plex 1"
//	input = "rtmp://cdn.example.com/live/main"
//	preview = "http://cdn.example.com:2022/live/main.m3u8"
type File struct {
	Version int      `toml:"version"`
	Sources []Source `toml:"sources"`
}

// Validate rejects entries without a name or input and duplicate names.
func (f File) Validate() error {
	seen := make(map[string]bool, len(f.Sources))
	var errs []error
	for i, s := range f.Sources {
		name := strings.TrimSpace(s.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("source %d: name is required", i))
		case strings.TrimSpace(s.Input) == "":
			errs = append(errs, fmt.Errorf("source %q: input is required", name))
		case seen[name]:
			errs = append(errs, fmt.Errorf("source %q: duplicate name", name))
		}
		seen[name] = true
	}
	return errors.Join(errs...)
}

// LoadFile reads and validates a catalog file.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read catalog: %w", err)
	}
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse catalog: %w", err)
	}
	if f.Version == 0 {
		f.Version = 1
	}
	if err := f.Validate(); err != nil {
		return File{}, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	return f, nil
}

// Catalog is the live set of sources. It is safe for concurrent use and
// can follow its file for changes.
type Catalog struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.RWMutex
	sources []Source

	watcher *config.Watcher[File]
}

// New creates an empty catalog backed by path. An empty path yields a
// catalog that stays empty.
func New(path string) *Catalog {
	return &Catalog{path: path, logger: logging.GetLogger("catalog"), debounce: config.DefaultDebounce}
}

// Load reads the backing file. A missing file leaves the catalog empty.
func (c *Catalog) Load() error {
	if c.path == "" {
		return nil
	}
	if _, err := os.Stat(c.path); errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("Catalog file not found, starting empty", "path", c.path)
		return nil
	}
	f, err := LoadFile(c.path)
	if err != nil {
		return err
	}
	c.Replace(f)
	return nil
}

// Replace swaps in the sources of f.
func (c *Catalog) Replace(f File) {
	sources := slices.Clone(f.Sources)
	for i := range sources {
		sources[i].Name = strings.TrimSpace(sources[i].Name)
		sources[i].Input = strings.TrimSpace(sources[i].Input)
	}
	slices.SortFunc(sources, func(a, b Source) int { return strings.Compare(a.Name, b.Name) })

	c.mu.Lock()
	c.sources = sources
	c.mu.Unlock()
	c.logger.Info("Catalog loaded", "path", c.path, "sources", len(sources))
}

// List returns every source sorted by name.
func (c *Catalog) List() []Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.sources)
}

// Lookup returns the source called name.
func (c *Catalog) Lookup(name string) (Source, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sources {
		if s.Name == name {
			return s, true
		}
	}
	return Source{}, false
}

// NameFor returns the name of the first source whose input is input.
func (c *Catalog) NameFor(input string) (string, bool) {
	input = strings.TrimSpace(input)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sources {
		if s.Input == input {
			return s.Name, true
		}
	}
	return "", false
}

// Watch reloads the catalog whenever its file changes. Invalid edits are
// logged and the previous sources stay in place.
func (c *Catalog) Watch() error {
	if c.path == "" {
		return nil
	}
	w := config.NewConfigWatcher(c.path, LoadFile, c.logger, config.WithDebounce[File](c.debounce))
	w.OnReload(c.Replace)
	if err := w.Start(); err != nil {
		return fmt.Errorf("watch catalog: %w", err)
	}
	c.watcher = w
	return nil
}

// Close stops watching.
func (c *Catalog) Close() error {
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Stop()
}
