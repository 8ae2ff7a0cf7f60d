package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the noted application
var rootCmd = &cobra.Command{
	Use:   "noted",
	Short: "Saves article notes into a categorized Notion workspace",
	Long: `noted is the backend for a browser extension that saves article notes
into the user's Notion workspace, filed under a dashboard page and one
page per category.

It can run as:
  - An HTTP API for the extension (default)
  - An MCP (Model Context Protocol) server for AI assistants`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// configPath is shared by every command that needs configuration.
var configPath string

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "noted version %s\n" .Version}}`)

	// Without a subcommand, serve.
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file. Environment variables override it.")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCredentialsCmd())
	rootCmd.AddCommand(newCategoriesCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
	rootCmd.AddCommand(newVersionCmd())
}
