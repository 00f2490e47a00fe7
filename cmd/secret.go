package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage webhook signing secrets",
}

var secretSetCmd = &cobra.Command{
	Use:   "set <owner-id> <secret>",
	Short: "Set the webhook signing secret for an owner",
	Long:  "Deliveries for an owner with a secret must carry a valid HMAC signature. Owners without one are accepted unverified.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.SetWebhookSecret(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("secret set for owner %s\n", args[0])
		return nil
	},
}

func init() {
	secretCmd.AddCommand(secretSetCmd)
	rootCmd.AddCommand(secretCmd)
}
