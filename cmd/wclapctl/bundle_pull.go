package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/wclap-bridge/wclap-bridge-go/internal/registry"
)

var (
	pullUsername string
	pullPassword string
	pullYes      bool
)

var bundlePullCmd = &cobra.Command{
	Use:   "pull <ref> <dest-dir>",
	Short: "Pull a .wclap bundle from an OCI registry into dest-dir",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, destDir := args[0], args[1]

		if !pullYes {
			confirmed := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Pull %s into %s, replacing any existing contents?", ref, destDir)).
				Value(&confirmed).
				Run()
			if err != nil {
				return err
			}
			if !confirmed {
				return fmt.Errorf("pull cancelled")
			}
		}

		cred := registry.Credentials{Username: pullUsername, Password: pullPassword}
		desc, err := registry.Pull(cmd.Context(), ref, destDir, cred)
		if err != nil {
			return fmt.Errorf("pulling %s: %w", ref, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pulled %s into %s (%s, %d bytes)\n", ref, destDir, desc.Digest, desc.Size)
		return nil
	},
}

func init() {
	bundlePullCmd.Flags().StringVar(&pullUsername, "username", "", "registry username")
	bundlePullCmd.Flags().StringVar(&pullPassword, "password", "", "registry password")
	bundlePullCmd.Flags().BoolVarP(&pullYes, "yes", "y", false, "skip the confirmation prompt")
}
