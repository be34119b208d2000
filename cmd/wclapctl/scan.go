// scan discovers .wclap bundles via internal/discovery, enumerates each
// one through internal/bridge.ScanBundle (cache-hit-without-load per
// spec §4.F/§8 scenario 1), resolves duplicate plugin ids by semver, and
// prints the survivors as JSON, optionally narrowed by an expr-lang
// --filter expression over each descriptor's fields — grounded on the
// teacher's expr.Compile/expr.Run + typed Env struct idiom
// (internal/domain/services/specifications.go ExpressionSpecification).
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/spf13/cobra"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/bridge"
	"github.com/wclap-bridge/wclap-bridge-go/internal/cache"
	"github.com/wclap-bridge/wclap-bridge-go/internal/config"
	"github.com/wclap-bridge/wclap-bridge-go/internal/discovery"
)

var scanFilter string

// scanCmd implements "scan [dirs...]": discover bundles under dirs (or
// the platform default search paths), enumerate their descriptors via
// the metadata cache, and print the ones matching --filter.
var scanCmd = &cobra.Command{
	Use:   "scan [dirs...]",
	Short: "Discover .wclap bundles and list their plugin descriptors",
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanFilter, "filter", "", `expr-lang expression over id, name, vendor, version, features (e.g. "vendor == 'Acme' && 'instrument' in features")`)
}

// descriptorEnv is the expr evaluation environment for --filter, one
// struct field per abi.Descriptor field a filter might reasonably
// select on, following the teacher's ControlEnv/expr.Env pattern
// (internal/domain/services/control_filter.go).
type descriptorEnv struct {
	ID       string   `expr:"id"`
	Name     string   `expr:"name"`
	Vendor   string   `expr:"vendor"`
	Version  string   `expr:"version"`
	Features []string `expr:"features"`
}

func envFor(d abi.Descriptor) descriptorEnv {
	return descriptorEnv{ID: d.ID, Name: d.Name, Vendor: d.Vendor, Version: d.Version, Features: d.Features}
}

func runScan(cmd *cobra.Command, args []string) error {
	roots := args
	if len(roots) == 0 {
		roots = discovery.DefaultSearchPaths()
	}

	compiled, err := compileFilter(scanFilter)
	if err != nil {
		return err
	}

	bc, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading bridge config: %w", err)
	}

	w := discovery.Walker{}
	paths, err := w.Discover(cmd.Context(), roots)
	if err != nil {
		return fmt.Errorf("discovering bundles: %w", err)
	}

	cachePath := defaultCachePath()
	c := cache.Load(cachePath)

	var scanned []discovery.ScannedBundle
	for _, path := range paths {
		descs, err := bridge.ScanBundle(cmd.Context(), path, bridgeConfig(bc, path), c, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wclapctl: scan: %s: %v\n", path, err)
			continue
		}
		scanned = append(scanned, discovery.ScannedBundle{Path: path, Descriptors: descs})
	}
	c.Save(cachePath)

	scanned = discovery.ResolveDuplicates(scanned)

	type result struct {
		Path        string           `json:"path"`
		Descriptors []abi.Descriptor `json:"descriptors"`
	}
	var out []result
	for _, b := range scanned {
		var kept []abi.Descriptor
		for _, d := range b.Descriptors {
			matched, err := evalFilter(compiled, d)
			if err != nil {
				return fmt.Errorf("evaluating --filter against %s: %w", d.ID, err)
			}
			if matched {
				kept = append(kept, d)
			}
		}
		if len(kept) > 0 {
			out = append(out, result{Path: b.Path, Descriptors: kept})
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func compileFilter(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, nil
	}
	program, err := expr.Compile(expression, expr.Env(descriptorEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid --filter expression: %w", err)
	}
	return program, nil
}

func evalFilter(program *vm.Program, d abi.Descriptor) (bool, error) {
	if program == nil {
		return true, nil
	}
	output, err := expr.Run(program, envFor(d))
	if err != nil {
		return false, err
	}
	matched, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("filter expression did not return a boolean: %v", output)
	}
	return matched, nil
}
