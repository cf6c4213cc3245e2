package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// appName is the binary and service name.
const appName = "discord-gate"

// rootCmd represents the base command for the discord-gate application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "OAuth2 gate that admits Discord guild members holding a role",
	Long: `discord-gate sends users through Discord's OAuth2 login, issues a signed
session cookie, and on every check asks Discord whether the user is still a
member of the configured guild and still holds the configured role.

When run without subcommands, it starts the gate server (equivalent to 'discord-gate serve').`,
	// SilenceUsage keeps usage text out of runtime errors such as a bad config.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "discord-gate version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
	rootCmd.AddCommand(newServeCmd())
}
