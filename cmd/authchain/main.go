// Command authchain runs login attempts against a configured chain, issues
// tokens and serves an authenticated HTTP endpoint.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/authchain/config"
)

var (
	configPath   string
	outputFormat string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "authchain",
		Short:         "Pluggable authentication chain",
		Long:          `authchain drives credentials through an ordered chain of authentication strategies.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := "authchain.yaml"
	if env := os.Getenv("AUTHCHAIN_CONFIG"); env != "" {
		defaultConfig = env
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "Chain configuration file (env: AUTHCHAIN_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().BoolVar(&color.NoColor, "no-color", color.NoColor, "Disable colored output")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadRuntime loads the configuration and builds the chain.
func loadRuntime(ctx context.Context) (*config.Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return config.Build(ctx, cfg)
}
