package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/leadline-ai/leadline/internal/model"
)

var agencyCmd = &cobra.Command{
	Use:   "agency",
	Short: "Manage agencies",
}

var agencyImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create or update agencies from a YAML onboarding file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read agency file %s", args[0])
		}

		var doc struct {
			Agencies []model.Agency `yaml:"agencies"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return eris.Wrap(err, "parse agency file")
		}
		if len(doc.Agencies) == 0 {
			return eris.New("agency file has no agencies")
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		for i := range doc.Agencies {
			a := &doc.Agencies[i]
			if a.Name == "" {
				return eris.Errorf("agency %d has no name", i)
			}
			if err := env.Store.UpsertAgency(cmd.Context(), a); err != nil {
				return err
			}
			zap.L().Info("agency imported",
				zap.String("agency_id", a.ID),
				zap.String("name", a.Name))
		}
		return nil
	},
}

var agencyShowCmd = &cobra.Command{
	Use:   "show <agency-id>",
	Short: "Show an agency",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		a, err := env.Store.GetAgency(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(a)
	},
}

func init() {
	agencyCmd.AddCommand(agencyImportCmd, agencyShowCmd)
	rootCmd.AddCommand(agencyCmd)
}
