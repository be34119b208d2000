// Package cache implements the metadata cache of spec §4.F / §6: a
// line-oriented plugin-cache.txt recording each bundle's plugin
// descriptors, keyed by the bundle's module.wasm mtime, so enumeration
// does not require instantiating the module.
//
// Grounded on the teacher's internal/infrastructure/config/yaml_loader.go
// for the "load once, log and ignore on failure, never fatal" discipline
// around an optional on-disk file; the line format itself is this
// project's own (spec §6), not derived from any pack library.
package cache

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
)

// FileVersion is the first-line sentinel; a mismatched or missing
// sentinel invalidates the whole file (spec §6).
const FileVersion = "WCLAP_CACHE_V1"

// Entry is one bundle's cached metadata.
type Entry struct {
	Path        string
	ModuleMtime int64 // unix seconds
	Descriptors []abi.Descriptor
}

// Cache is an in-memory view of plugin-cache.txt, keyed by bundle path.
type Cache struct {
	entries map[string]Entry
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: map[string]Entry{}}
}

// Lookup returns the cached entry for path if present and still valid
// against moduleMtime (spec §6: "mtime equal to the real mtime of
// module.wasm," second-granularity).
func (c *Cache) Lookup(path string, moduleMtime int64) (Entry, bool) {
	e, ok := c.entries[path]
	if !ok || e.ModuleMtime != moduleMtime {
		return Entry{}, false
	}
	return e, true
}

// Put records or replaces the entry for path.
func (c *Cache) Put(e Entry) {
	c.entries[e.Path] = e
}

// Entries returns every cached entry, in no particular order.
func (c *Cache) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}

// Load reads a cache file. A missing file, a version mismatch, or any
// parse failure is logged and treated as an empty cache — never fatal
// (spec §4.F, §8 CacheError).
func Load(path string) *Cache {
	c := New()
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("plugin cache: failed to open, starting empty", "path", path, "error", err)
		}
		return c
	}
	defer f.Close()

	if err := c.parse(f); err != nil {
		slog.Warn("plugin cache: failed to parse, starting empty", "path", path, "error", err)
		return New()
	}
	return c
}

func (c *Cache) parse(r io.Reader) error {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		return fmt.Errorf("empty cache file")
	}
	if sc.Text() != FileVersion {
		return fmt.Errorf("unrecognized cache version %q", sc.Text())
	}

	var cur *Entry
	var curPlugin *abi.Descriptor

	flushPlugin := func() {
		if cur != nil && curPlugin != nil {
			cur.Descriptors = append(cur.Descriptors, *curPlugin)
			curPlugin = nil
		}
	}
	flushEntry := func() {
		flushPlugin()
		if cur != nil {
			c.entries[cur.Path] = *cur
			cur = nil
		}
	}

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "END_WCLAP":
			flushEntry()
		case strings.HasPrefix(line, "PATH:"):
			flushEntry()
			cur = &Entry{Path: strings.TrimPrefix(line, "PATH:")}
		case strings.HasPrefix(line, "MTIME:"):
			if cur == nil {
				continue
			}
			v, err := strconv.ParseInt(strings.TrimPrefix(line, "MTIME:"), 10, 64)
			if err != nil {
				return fmt.Errorf("bad MTIME line %q: %w", line, err)
			}
			cur.ModuleMtime = v
		case line == "BEGIN_PLUGIN":
			flushPlugin()
			curPlugin = &abi.Descriptor{}
		case line == "END_PLUGIN":
			flushPlugin()
		case curPlugin != nil && strings.HasPrefix(line, "ID:"):
			curPlugin.ID = strings.TrimPrefix(line, "ID:")
		case curPlugin != nil && strings.HasPrefix(line, "NAME:"):
			curPlugin.Name = strings.TrimPrefix(line, "NAME:")
		case curPlugin != nil && strings.HasPrefix(line, "VENDOR:"):
			curPlugin.Vendor = strings.TrimPrefix(line, "VENDOR:")
		case curPlugin != nil && strings.HasPrefix(line, "URL:"):
			curPlugin.URL = strings.TrimPrefix(line, "URL:")
		case curPlugin != nil && strings.HasPrefix(line, "MANUAL_URL:"):
			curPlugin.ManualURL = strings.TrimPrefix(line, "MANUAL_URL:")
		case curPlugin != nil && strings.HasPrefix(line, "SUPPORT_URL:"):
			curPlugin.SupportURL = strings.TrimPrefix(line, "SUPPORT_URL:")
		case curPlugin != nil && strings.HasPrefix(line, "VERSION:"):
			curPlugin.Version = strings.TrimPrefix(line, "VERSION:")
		case curPlugin != nil && strings.HasPrefix(line, "DESCRIPTION:"):
			curPlugin.Description = strings.TrimPrefix(line, "DESCRIPTION:")
		case curPlugin != nil && strings.HasPrefix(line, "FEATURE:"):
			curPlugin.Features = append(curPlugin.Features, strings.TrimPrefix(line, "FEATURE:"))
		}
	}
	return sc.Err()
}

// Save writes the cache to path, logging and ignoring any failure
// rather than returning it (spec §4.F: "Failures to write the cache
// are logged and ignored").
func (c *Cache) Save(path string) {
	f, err := os.Create(path)
	if err != nil {
		slog.Warn("plugin cache: failed to write", "path", path, "error", err)
		return
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, FileVersion)
	for _, e := range c.entries {
		fmt.Fprintf(w, "PATH:%s\n", e.Path)
		fmt.Fprintf(w, "MTIME:%d\n", e.ModuleMtime)
		for _, d := range e.Descriptors {
			fmt.Fprintln(w, "BEGIN_PLUGIN")
			fmt.Fprintf(w, "ID:%s\n", d.ID)
			fmt.Fprintf(w, "NAME:%s\n", d.Name)
			fmt.Fprintf(w, "VENDOR:%s\n", d.Vendor)
			fmt.Fprintf(w, "URL:%s\n", d.URL)
			fmt.Fprintf(w, "MANUAL_URL:%s\n", d.ManualURL)
			fmt.Fprintf(w, "SUPPORT_URL:%s\n", d.SupportURL)
			fmt.Fprintf(w, "VERSION:%s\n", d.Version)
			fmt.Fprintf(w, "DESCRIPTION:%s\n", d.Description)
			for _, feat := range d.Features {
				fmt.Fprintf(w, "FEATURE:%s\n", feat)
			}
			fmt.Fprintln(w, "END_PLUGIN")
		}
		fmt.Fprintln(w, "END_WCLAP")
	}
	if err := w.Flush(); err != nil {
		slog.Warn("plugin cache: failed to flush", "path", path, "error", err)
	}
}
