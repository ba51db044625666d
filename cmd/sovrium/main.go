package main

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:               "sovrium",
		Short:             "Run the automations of a Sovrium app.",
		SilenceUsage:      true,
		PersistentPreRunE: c.setupConfig,
		RunE:              c.serve,
	}
	if err := setupFlags(root, c.v); err != nil {
		log.Fatal(err)
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the scheduler and the replay queue, optionally serving MCP on stdio.",
			Args:  cobra.NoArgs,
			RunE:  c.serve,
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the app file.",
			Args:  cobra.NoArgs,
			RunE:  c.validate,
		},
		c.triggerCmd(),
		&cobra.Command{
			Use:   "replay <run-id>",
			Short: "Replay a run from its last successful step.",
			Args:  cobra.ExactArgs(1),
			RunE:  c.replay,
		},
		c.runsCmd(),
		c.diagramCmd(),
		c.secretCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version.",
			Args:  cobra.NoArgs,
			Run:   func(cmd *cobra.Command, _ []string) { printVersion(cmd.OutOrStdout()) },
		},
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}
