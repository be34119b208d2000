package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wclap-bridge/wclap-bridge-go/internal/version"
)

// versionCmd implements the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print wclapctl's version",
	Long:  `Print the version, Git commit hash, build date, and Go toolchain version of wclapctl.`,
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("wclapctl %s\n", version.Get().String())
	},
}
