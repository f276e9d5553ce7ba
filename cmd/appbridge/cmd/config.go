package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fluxorio/appbridge/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write a configuration file with default settings",
	Long: `Write a configuration file with every setting at its default value.
The format follows the extension: .json for JSON, anything else YAML.

Examples:
  appbridge config init appbridge.yaml --app-id com.example.app`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		cfg := config.Default()
		cfg.AppID = appID
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(func(c *config.Bridge) {
			if appID != "" {
				c.AppID = appID
			}
		})
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

func init() {
	configCmd.PersistentFlags().StringVar(&appID, "app-id", "", "application id")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
