package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/paddock/internal/secret"
)

func newKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the application key",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Print a new base64 application key",
		Long: `Prints a new key for app_key. The key encrypts daemon tokens at rest;
replacing it makes every stored token unreadable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secret.GenerateKey()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
			return err
		},
	})
	return cmd
}
