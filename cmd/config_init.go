package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/campus-analytics/curate-cli/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config.yaml",
	Long:  "Writes a config.yaml with default settings to the current directory.",
	RunE: func(cmd *cobra.Command, args []string) error {
		const path = "config.yaml"

		if _, err := os.Stat(path); err == nil {
			return eris.Errorf("config init: %s already exists", path)
		}

		defaults, err := config.Defaults()
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(defaults)
		if err != nil {
			return eris.Wrap(err, "config init: marshal defaults")
		}

		if err := os.WriteFile(path, data, 0o644); err != nil {
			return eris.Wrap(err, "config init: write file")
		}

		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
