// cache exposes plugin-cache.txt (spec §4.F/§6) for operator inspection:
// "cache show" prints the decoded entries, "cache clear" removes the
// file so the next scan rebuilds it from scratch.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wclap-bridge/wclap-bridge-go/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the plugin metadata cache",
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the cached entries in plugin-cache.txt",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := cache.Load(defaultCachePath())
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(c.Entries())
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete plugin-cache.txt so the next scan rebuilds it",
	RunE: func(_ *cobra.Command, _ []string) error {
		path := defaultCachePath()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clearing cache: %w", err)
		}
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
