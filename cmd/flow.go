package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leadline-ai/leadline/internal/flow"
)

var (
	flowAgencyID  string
	flowVertical  string
	flowGeography string
	flowLeads     int
)

var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Manage lead generation campaigns",
}

var flowStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a campaign and run it to completion or pause",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := env.Orchestrator.Start(cmd.Context(), flow.StartParams{
			AgencyID:       flowAgencyID,
			Vertical:       flowVertical,
			Geography:      flowGeography,
			RequestedLeads: flowLeads,
		})
		if err != nil && f == nil {
			return err
		}
		if err != nil {
			zap.L().Warn("flow finished with error", zap.String("flow_id", f.ID), zap.Error(err))
		}
		return printJSON(f)
	},
}

var flowResumeCmd = &cobra.Command{
	Use:   "resume <flow-id>",
	Short: "Resume a campaign paused for a billing upgrade",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Orchestrator.Resume(cmd.Context(), args[0]); err != nil {
			return err
		}
		f, err := env.Store.GetFlow(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(f)
	},
}

var flowStatusCmd = &cobra.Command{
	Use:   "status <flow-id>",
	Short: "Show a campaign's phases and progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := env.Store.GetFlow(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(f)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	flowStartCmd.Flags().StringVar(&flowAgencyID, "agency", "", "agency id (required)")
	flowStartCmd.Flags().StringVar(&flowVertical, "vertical", "", "business vertical, e.g. plumbers (required)")
	flowStartCmd.Flags().StringVar(&flowGeography, "geography", "", "target geography, e.g. Austin TX (required)")
	flowStartCmd.Flags().IntVar(&flowLeads, "leads", 0, "requested lead count (default 20)")
	flowStartCmd.MarkFlagRequired("agency")
	flowStartCmd.MarkFlagRequired("vertical")
	flowStartCmd.MarkFlagRequired("geography")

	flowCmd.AddCommand(flowStartCmd, flowResumeCmd, flowStatusCmd)
	rootCmd.AddCommand(flowCmd)
}
