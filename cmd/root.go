package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command of the auth service CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cookie_auth",
		Short:         "Cookie based authentication service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewWorkerCmd())
	cmd.AddCommand(NewMailSinkCmd())

	return cmd
}
