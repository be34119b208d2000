// bundle push/pull move .wclap bundle directories to and from an OCI
// registry via internal/registry (oras-go v2), with a charmbracelet/huh
// confirmation prompt before a push overwrites a remote tag — grounded
// on the teacher's huh.NewConfirm/huh.NewInput chains
// (cmd/reglet/init_aws.go runAWSInit).
package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/wclap-bridge/wclap-bridge-go/internal/registry"
)

var (
	pushUsername string
	pushPassword string
	pushYes      bool
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Pull or push .wclap bundles to an OCI registry",
}

var bundlePushCmd = &cobra.Command{
	Use:   "push <bundle-dir> <ref>",
	Short: "Push a .wclap bundle directory to an OCI registry as an artifact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundleDir, ref := args[0], args[1]

		if !pushYes {
			confirmed := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Push %s to %s?", bundleDir, ref)).
				Value(&confirmed).
				Run()
			if err != nil {
				return err
			}
			if !confirmed {
				return fmt.Errorf("push cancelled")
			}
		}

		cred := registry.Credentials{Username: pushUsername, Password: pushPassword}
		desc, err := registry.Push(cmd.Context(), bundleDir, ref, cred)
		if err != nil {
			return fmt.Errorf("pushing %s: %w", bundleDir, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pushed %s (%s, %d bytes)\n", ref, desc.Digest, desc.Size)
		return nil
	},
}

func init() {
	bundlePushCmd.Flags().StringVar(&pushUsername, "username", "", "registry username")
	bundlePushCmd.Flags().StringVar(&pushPassword, "password", "", "registry password")
	bundlePushCmd.Flags().BoolVarP(&pushYes, "yes", "y", false, "skip the confirmation prompt")

	bundleCmd.AddCommand(bundlePushCmd)
	bundleCmd.AddCommand(bundlePullCmd)
}
