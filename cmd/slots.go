package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var slotsCmd = &cobra.Command{
	Use:   "slots <agency-id>",
	Short: "List open meeting slots for an agency",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		agency, err := env.Store.GetAgency(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		slots, err := env.Engine.Slots(cmd.Context(), agency)
		if err != nil {
			return err
		}
		for _, s := range slots {
			fmt.Println(s.Label)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(slotsCmd)
}
