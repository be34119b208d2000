// Package config loads BridgeConfig, the ambient process-level
// configuration spec §3 adds on top of the distilled spec's runtime
// types: deadline, memory limit, marshaller id/name conventions, and
// bundle search paths, read from a YAML file at
// $XDG_CONFIG_HOME/wclap-bridge/config.yaml (or the platform
// equivalent).
//
// Grounded on the teacher's internal/infrastructure/config.ProfileLoader
// (os.OpenRoot path-traversal-safe file access, goccy/go-yaml decoding)
// and internal/config.SchemaCompiler (optional santhosh-tekuri/jsonschema
// validation keyed off a provider-supplied schema document) — both
// generalized here from "one profile, one plugin-config schema per
// observation" to "one bridge config, one optional top-level $schema".
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
)

// Default deadline applied when the field is absent
// from the config file entirely (spec §3's BridgeConfig has no
// mandatory fields; a host with no config file still gets a usable
// bridge).
const (
	DefaultDeadlineMillis = 200
)

// BridgeConfig is the ambient process-level configuration spec §3
// describes. Schema, when non-empty, names a JSON Schema document
// (a path relative to the config file, or an http(s) URL) that the
// rest of the document is validated against after decoding.
type BridgeConfig struct {
	DeadlineMillis    uint32   `yaml:"deadlineMillis"`
	MustLinkDirs      bool     `yaml:"mustLinkDirs"`
	MemoryLimitPages  uint32   `yaml:"memoryLimitPages"`
	IDPrefix          string   `yaml:"idPrefix"`
	NameSuffix        string   `yaml:"nameSuffix"`
	BundleSearchPaths []string `yaml:"bundleSearchPaths"`
	Schema            string   `yaml:"$schema"`
}

// Default returns the configuration a host gets with no config file at
// all: the spec's deadline default and the Marshaller's own default
// id prefix / name suffix (abi.DefaultIDPrefix / abi.DefaultNameSuffix).
func Default() BridgeConfig {
	return BridgeConfig{
		DeadlineMillis: DefaultDeadlineMillis,
		IDPrefix:       abi.DefaultIDPrefix,
		NameSuffix:     abi.DefaultNameSuffix,
	}
}

// applyDefaults fills zero-valued fields the way the teacher's
// Profile.ApplyDefaults fills control defaults after decode.
func (c *BridgeConfig) applyDefaults() {
	if c.DeadlineMillis == 0 {
		c.DeadlineMillis = DefaultDeadlineMillis
	}
	if c.IDPrefix == "" {
		c.IDPrefix = abi.DefaultIDPrefix
	}
	if c.NameSuffix == "" {
		c.NameSuffix = abi.DefaultNameSuffix
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/wclap-bridge/config.yaml, falling
// back to os.UserConfigDir() on platforms without XDG_CONFIG_HOME set
// (spec §3).
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "wclap-bridge", "config.yaml")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "wclap-bridge", "config.yaml")
	}
	return filepath.Join(".", "wclap-bridge", "config.yaml")
}

// Load reads and decodes path. A missing file is not an error: it
// returns Default() so a host with no config file still gets a usable
// BridgeConfig, matching the outer C ABI's globalInit(deadlineMillis)
// taking no config path of its own.
func Load(path string) (BridgeConfig, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	root, err := os.OpenRoot(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return BridgeConfig{}, fmt.Errorf("config: opening %s: %w", dir, err)
	}
	defer root.Close()

	raw, err := readAll(root, base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return BridgeConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg BridgeConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return BridgeConfig{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	cfg.applyDefaults()

	if cfg.Schema != "" {
		if err := validateAgainstSchema(dir, cfg.Schema, raw); err != nil {
			return BridgeConfig{}, fmt.Errorf("config: %s failed schema validation: %w", path, err)
		}
	}

	return cfg, nil
}

func readAll(root *os.Root, base string) ([]byte, error) {
	f, err := root.Open(base)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// validateAgainstSchema decodes raw into a JSON-compatible value and
// checks it against the schema document named by schemaRef (relative to
// configDir unless it is an http(s) URL), mirroring the teacher's
// SchemaCompiler.GetCompiledSchema / schema.Validate call shape.
func validateAgainstSchema(configDir, schemaRef string, raw []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("re-decoding document for schema validation: %w", err)
	}

	var schemaBytes []byte
	if strings.HasPrefix(schemaRef, "http://") || strings.HasPrefix(schemaRef, "https://") {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		schema, err := compiler.Compile(schemaRef)
		if err != nil {
			return fmt.Errorf("compiling schema %s: %w", schemaRef, err)
		}
		return schema.Validate(doc)
	}

	schemaPath := schemaRef
	if !filepath.IsAbs(schemaPath) {
		schemaPath = filepath.Join(configDir, schemaRef)
	}
	var err error
	schemaBytes, err = os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("reading schema %s: %w", schemaPath, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaPath, bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("adding schema resource %s: %w", schemaPath, err)
	}
	schema, err := compiler.Compile(schemaPath)
	if err != nil {
		return fmt.Errorf("compiling schema %s: %w", schemaPath, err)
	}
	return schema.Validate(doc)
}
