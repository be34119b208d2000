// Package discovery finds .wclap bundles on disk. spec.md §1 marks
// discovery policy itself out of scope beyond "Discovery is an external
// collaborator" (spec §6); this package is the default filesystem-walk
// implementation wclapctl ships against that collaborator interface,
// plus the bundle-advertises-a-duplicate-id resolution spec's
// end-to-end scenario 6 requires.
//
// Grounded on the teacher's errgroup-based parallel fan-out
// (internal/infrastructure/engine/control_executor.go
// executeObservationsParallel: errgroup.WithContext + SetLimit),
// simplified here since bundle directories are independent of each
// other and need no dependency graph the way the teacher's controls do.
package discovery

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Masterminds/semver/v3"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
)

// BundleFileName mirrors bridge.BundleFileName; duplicated here rather
// than imported to keep discovery free of a dependency on bridge (it
// only needs to recognize bundle directories, never open one).
const BundleFileName = "module.wasm"

const bundleSuffix = ".wclap"

// Discoverer finds candidate bundle directories under a set of search
// roots. The default Walker satisfies it; wclapctl accepts any
// implementation so a host embedding this bridge can substitute its own
// policy (spec §6 "Discovery is an external collaborator").
type Discoverer interface {
	Discover(ctx context.Context, roots []string) ([]string, error)
}

// DefaultSearchPaths returns the platform bundle directories spec §6
// names, filtered to those that exist on this host.
func DefaultSearchPaths() []string {
	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{
			"/Library/Audio/Plug-Ins/WCLAP",
			filepath.Join(os.Getenv("HOME"), "Library/Audio/Plug-Ins/WCLAP"),
		}
	case "windows":
		commonFiles := os.Getenv("CommonProgramFiles")
		if commonFiles == "" {
			commonFiles = `C:\Program Files\Common Files`
		}
		candidates = []string{filepath.Join(commonFiles, "WCLAP")}
	default:
		candidates = []string{
			"/usr/lib/wclap",
			"/usr/local/lib/wclap",
			filepath.Join(os.Getenv("HOME"), ".wclap"),
		}
	}

	var out []string
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			out = append(out, c)
		}
	}
	return out
}

// Walker is the default Discoverer: a bounded-concurrency filesystem
// walk over each root looking for directories named *.wclap that
// contain module.wasm.
type Walker struct {
	// Concurrency caps how many roots are walked at once. 0 uses
	// runtime.GOMAXPROCS(0).
	Concurrency int
}

func (w Walker) concurrency() int {
	if w.Concurrency > 0 {
		return w.Concurrency
	}
	return runtime.GOMAXPROCS(0)
}

// Discover walks each root concurrently and returns every bundle
// directory found, sorted for deterministic output. A root that
// doesn't exist or isn't readable is skipped rather than failing the
// whole scan, since search paths are frequently absent on a given host.
func (w Walker) Discover(ctx context.Context, roots []string) ([]string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency())

	var mu sync.Mutex
	var found []string

	for _, root := range roots {
		root := root
		g.Go(func() error {
			bundles, err := walkOne(gctx, root)
			if err != nil {
				return err
			}
			mu.Lock()
			found = append(found, bundles...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(found)
	return found, nil
}

func walkOne(ctx context.Context, root string) ([]string, error) {
	var bundles []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// An unreadable subtree is not fatal to the scan as a
			// whole; skip it and keep walking siblings.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !d.IsDir() || filepath.Ext(path) != bundleSuffix {
			return nil
		}
		if _, statErr := os.Stat(filepath.Join(path, BundleFileName)); statErr == nil {
			bundles = append(bundles, path)
		}
		return filepath.SkipDir // don't descend into a recognized bundle
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return bundles, err
}

// ScannedBundle pairs a bundle's filesystem path with the descriptors
// its factory advertised.
type ScannedBundle struct {
	Path        string
	Descriptors []abi.Descriptor
}

// ResolveDuplicates implements spec §8 scenario 6: when more than one
// bundle advertises the same descriptor ID, only the descriptor with
// the highest semver Version survives, and it carries the Path of the
// bundle that reported it. Descriptors whose Version does not parse as
// semver are treated as lower than any that does, and ties keep the
// earlier bundle in scan order.
func ResolveDuplicates(bundles []ScannedBundle) []ScannedBundle {
	type winner struct {
		path string
		desc abi.Descriptor
		ver  *semver.Version
	}
	best := map[string]winner{}
	order := []string{}

	for _, b := range bundles {
		for _, d := range b.Descriptors {
			v, _ := semver.NewVersion(d.Version)
			cur, ok := best[d.ID]
			if !ok {
				best[d.ID] = winner{path: b.Path, desc: d, ver: v}
				order = append(order, d.ID)
				continue
			}
			if betterVersion(v, cur.ver) {
				best[d.ID] = winner{path: b.Path, desc: d, ver: v}
			}
		}
	}

	byPath := map[string][]abi.Descriptor{}
	for _, id := range order {
		w := best[id]
		byPath[w.path] = append(byPath[w.path], w.desc)
	}

	out := make([]ScannedBundle, 0, len(byPath))
	seen := map[string]bool{}
	for _, b := range bundles {
		if seen[b.Path] {
			continue
		}
		if descs, ok := byPath[b.Path]; ok {
			out = append(out, ScannedBundle{Path: b.Path, Descriptors: descs})
			seen[b.Path] = true
		}
	}
	return out
}

func betterVersion(candidate, current *semver.Version) bool {
	if candidate == nil {
		return false
	}
	if current == nil {
		return true
	}
	return candidate.GreaterThan(current)
}
