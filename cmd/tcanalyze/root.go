package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/app"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/config"
)

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tcanalyze",
	Short: "Two-stage risk analysis for Terms & Conditions documents",
	Long: `tcanalyze classifies Terms & Conditions documents with a fast model and
escalates low-confidence documents to a deeper model.

Configuration is read from the environment, .env and an optional YAML file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		loaded.ConfigureLogging()
		cfg = loaded
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(costModelCmd)
	rootCmd.AddCommand(versionCmd)
}

func openApp() (*app.App, error) {
	a, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialise: %w", err)
	}
	return a, nil
}
