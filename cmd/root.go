package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeReauthRequired indicates at least one stored credential can no
	// longer be refreshed and needs an interactive sign-in.
	ExitCodeReauthRequired = 2
)

// configPath specifies a custom configuration directory path shared by all commands.
// When empty, ~/.config/sheetgate is used.
var configPath string

// debug enables verbose logging across the application.
var debug bool

// rootCmd represents the base command for the sheetgate application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sheetgate",
	Short: "OAuth 2.1 authorization gateway for spreadsheet API credentials",
	Long: `sheetgate runs the OAuth 2.1 authorization code flow with PKCE against an
upstream identity provider on behalf of downstream clients, stores the
resulting credentials encrypted at rest and keeps them refreshed.

Use 'sheetgate serve' to run the gateway and 'sheetgate tokens' to inspect
or revoke stored credentials.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "sheetgate version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	var reauth *ReauthRequiredError
	if errors.As(err, &reauth) {
		return ExitCodeReauthRequired
	}
	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Configuration directory (default ~/.config/sheetgate)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
}
