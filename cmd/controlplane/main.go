// Copyright Contributors to the Mellea project

// controlplane is the unified binary for the Mellea control plane.
//
// Available commands:
//   - serve: Start the control plane daemon (background controllers +
//     metrics endpoint)
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "controlplane",
	Short: "Mellea control plane - builds and runs user programs in Kubernetes sandboxes",
	Long: `The Mellea control plane manages Environments, Runs, and build caching for
user-supplied programs executed in per-tenant Kubernetes sandboxes.

This binary provides:
  serve   Start the control plane daemon

Example:
  controlplane serve --metrics-bind-address=:9090`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
