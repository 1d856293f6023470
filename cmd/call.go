package main

import (
	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Manage outbound calls",
}

var callStartCmd = &cobra.Command{
	Use:   "start <opportunity-id>",
	Short: "Queue an outbound call to an opportunity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Calls.Start(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(c)
	},
}

var callShowCmd = &cobra.Command{
	Use:   "show <call-id>",
	Short: "Show a call's state, transcript and outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Store.GetCall(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(c)
	},
}

func init() {
	callCmd.AddCommand(callStartCmd, callShowCmd)
	rootCmd.AddCommand(callCmd)
}
