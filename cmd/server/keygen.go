package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jrsteele09/go-oidc-session/token/keys"
)

func keygenCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate cookie secrets",
		Long: `Generate random secrets for cookie.secrets / COOKIE_SECRETS. The first
configured secret encrypts new cookies; keep older ones listed after it
until every cookie issued with them has expired.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			for i := 0; i < count; i++ {
				secret, err := keys.GenerateSecret()
				if err != nil {
					return fmt.Errorf("generating secret: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), secret)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of secrets to generate")

	return cmd
}
