package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadAppliesDefaultsForMissingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memoryLimitPages: 4096\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), cfg.MemoryLimitPages)
	assert.Equal(t, uint32(DefaultDeadlineMillis), cfg.DeadlineMillis)
	assert.Equal(t, abi.DefaultIDPrefix, cfg.IDPrefix)
	assert.Equal(t, abi.DefaultNameSuffix, cfg.NameSuffix)
}

func TestLoadParsesFullDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
deadlineMillis: 500
mustLinkDirs: true
memoryLimitPages: 8192
idPrefix: com.example.
nameSuffix: " [WC]"
bundleSearchPaths:
  - /usr/lib/wclap
  - /opt/wclap
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(500), cfg.DeadlineMillis)
	assert.True(t, cfg.MustLinkDirs)
	assert.Equal(t, uint32(8192), cfg.MemoryLimitPages)
	assert.Equal(t, "com.example.", cfg.IDPrefix)
	assert.Equal(t, " [WC]", cfg.NameSuffix)
	assert.Equal(t, []string{"/usr/lib/wclap", "/opt/wclap"}, cfg.BundleSearchPaths)
}

func TestLoadValidatesAgainstLocalSchema(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(`{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"properties": {"deadlineMillis": {"type": "integer", "minimum": 1}},
		"required": ["deadlineMillis"]
	}`), 0o644))

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
$schema: schema.json
deadlineMillis: 100
`), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), cfg.DeadlineMillis)
}

func TestLoadRejectsDocumentFailingSchema(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(`{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"properties": {"deadlineMillis": {"type": "integer", "minimum": 1}},
		"required": ["deadlineMillis"]
	}`), 0o644))

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
$schema: schema.json
mustLinkDirs: true
`), 0o644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestDefaultPathHonorsXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")
	assert.Equal(t, "/tmp/xdg-test/wclap-bridge/config.yaml", DefaultPath())
}
