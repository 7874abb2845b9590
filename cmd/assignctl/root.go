package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iota-uz/iota-fleet/pkg/configuration"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "assignctl",
		Short:         "Assignment engine operations (migrations, expiry, outbox relay)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newExpireDueCmd())
	cmd.AddCommand(newRelayCmd())
	cmd.AddCommand(newOccupancyCmd())
	cmd.AddCommand(newActiveCmd())
	cmd.AddCommand(newHistoryCmd())
	return cmd
}

func Execute() {
	err := newRootCmd().Execute()
	configuration.Use().Unload()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitCode(err))
	}
}
