// Package cmd provides the command-line interface for vmmsim.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"oskern/kernel/kfmt"
)

// newRootCmd builds the base command when called without any subcommands.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vmmsim",
		Short: "vmmsim runs the kernel's page-table mapper on simulated physical memory.",
		Long: `vmmsim runs the kernel's frame allocator and page-table mapper on a block of ` +
			`simulated physical memory. It can apply arbitrary mappings and translate addresses ` +
			`(run) or replay the VGA buffer example mapping (example).`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			kfmt.SetOutputSink(cmd.OutOrStdout())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			kfmt.SetOutputSink(nil)
		},
	}

	rootCmd.AddCommand(newRunCmd(), newExampleCmd())
	return rootCmd
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := newRootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
