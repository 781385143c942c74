// Package cmd provides the CLI commands for Toolgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolgate/gateway/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "Toolgate - MCP gateway and tool-hosting runtime",
	Long: `Toolgate is an MCP (Model Context Protocol) gateway and tool-hosting
runtime. It serves JSON-RPC 2.0 requests from AI assistants and routes
them either to locally hosted tools or to a configurable set of
upstream MCP servers whose catalogs are aggregated into a single
namespaced view.

Quick start:
  1. Create a config file: toolgate.yaml
  2. Run: toolgate serve

Configuration:
  Config is loaded from toolgate.yaml in the current directory,
  $HOME/.toolgate/, or /etc/toolgate/.

  Environment variables can override config values with the TOOLGATE_ prefix.
  Example: TOOLGATE_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the gateway server
  hash-key    Generate a SHA256 hash for an API key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./toolgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
