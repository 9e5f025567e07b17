package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coverloop/coverloop/internal/domain/export"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate integration configuration documents",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a configuration document without building it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		spec, err := export.DecodeConfiguration(raw, export.NewRegistries())
		if err != nil {
			return fmt.Errorf("invalid: %w", err)
		}
		cmd.Printf("ok: %d exporter(s), %d web-service integration(s)\n",
			len(spec.Exporters), len(spec.WebIntegrations))
		return nil
	},
}

var configExportersCmd = &cobra.Command{
	Use:   "exporters <file>",
	Short: "List the exporters and integrations a document declares",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		spec, err := export.DecodeConfiguration(raw, export.NewRegistries())
		if err != nil {
			return fmt.Errorf("invalid: %w", err)
		}
		for _, e := range spec.Exporters {
			types := make([]string, 0, len(e.EventTypes))
			for _, t := range e.EventTypes {
				types = append(types, string(t))
			}
			cmd.Printf("exporter %s: events [%s]\n", e.ID, strings.Join(types, ", "))
		}
		for _, w := range spec.WebIntegrations {
			cmd.Printf("web-service integration %s\n", w.ID)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configExportersCmd)
	RootCmd.AddCommand(configCmd)
}
