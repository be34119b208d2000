// Command wclapctl is the operator-facing CLI spec §6 names alongside the
// outer C ABI: scanning bundle search paths, inspecting/clearing the
// metadata cache, and pulling/pushing .wclap bundles to an OCI registry.
//
// Grounded on the teacher's cmd/reglet (cobra root command + viper config
// + slog setup); each subcommand file below is grounded individually.
package main

import (
	"os"
	"path/filepath"

	"github.com/wclap-bridge/wclap-bridge-go/internal/bridge"
	"github.com/wclap-bridge/wclap-bridge-go/internal/config"
	"github.com/wclap-bridge/wclap-bridge-go/internal/instance"
)

// defaultCachePath mirrors config.DefaultPath's XDG convention, but for
// the cache directory spec §7's Environment section names
// (XDG_CACHE_HOME, with HOME and LOCALAPPDATA as the Linux/Windows
// fallbacks cache.Load itself doesn't need to know about).
func defaultCachePath() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "wclap-bridge", "plugin-cache.txt")
	}
	if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
		return filepath.Join(dir, "wclap-bridge", "plugin-cache.txt")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "wclap-bridge", "plugin-cache.txt")
	}
	return filepath.Join(".", "plugin-cache.txt")
}

// bridgeConfig converts an already-loaded BridgeConfig to a
// bridge.Config for bundles wclapctl opens itself (scan's cache-miss
// path), matching capi.openWithDirs's own translation from
// config.BridgeConfig to bridge.Config.
func bridgeConfig(bc config.BridgeConfig, pluginDir string) bridge.Config {
	return bridge.Config{
		DeadlineMillis:   bc.DeadlineMillis,
		MemoryLimitPages: bc.MemoryLimitPages,
		IDPrefix:         bc.IDPrefix,
		NameSuffix:       bc.NameSuffix,
		Dirs: instance.DirGrants{
			PluginDir:    pluginDir,
			MustLinkDirs: bc.MustLinkDirs,
		},
	}
}
