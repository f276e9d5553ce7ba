package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fluxorio/appbridge/pkg/config"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "appbridge",
	Short: "Managed application bridge for the Application Manager",
	Long: `appbridge registers a process with the Application Manager and logs the
lifecycle events it receives.

Configuration comes from defaults, an optional YAML or JSON file (--config)
and APPBRIDGE_* environment variables, which may also be set in a .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnv(envFile)
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before env overrides")
}

// loadEnv loads path into the environment. A missing file is not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// loadConfig reads the configuration, lets override adjust it and
// validates the result
func loadConfig(override func(*config.Bridge)) (*config.Bridge, error) {
	cfg, err := config.ReadBridge(configPath)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
