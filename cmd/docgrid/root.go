package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docgrid/internal/config"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	mode := &outputMode{}
	var logLevel, logFormat string

	cmd := &cobra.Command{
		Use:           "docgrid",
		Short:         "Docgrid stores documents whose attachments live in a content-addressed blob store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if mode.json && mode.yaml {
				return fmt.Errorf("--json and --yaml are mutually exclusive")
			}
			warnings, err := setupLogging(logLevel, logFormat, cfg)
			if err != nil {
				return err
			}
			for _, warning := range warnings {
				fmt.Fprintln(stderr, warning)
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.PersistentFlags().BoolVar(&mode.json, "json", false, "output JSON")
	cmd.PersistentFlags().BoolVar(&mode.yaml, "yaml", false, "output YAML")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log line format (text, json)")

	cmd.AddCommand(
		newCreateCmd(cfg, mode),
		newShowCmd(cfg, mode),
		newListCmd(cfg, mode),
		newAttachCmd(cfg, mode),
		newDetachCmd(cfg, mode),
		newCatCmd(cfg, mode),
		newRmCmd(cfg, mode),
		newTypesCmd(mode),
		newGCCmd(cfg, mode),
		newInfoCmd(cfg, mode),
		newConfigCmd(cfg),
	)

	return cmd
}
