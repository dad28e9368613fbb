package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "oidc-session",
		Short: "Cookie based OpenID Connect sessions with silent token renewal",
		Long: `oidc-session signs browsers in with an OpenID Connect provider and keeps
them signed in. Tokens live in an encrypted session cookie and are refreshed
on the request that finds them about to expire.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		keygenCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}
