package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <transcript-id>",
	Short: "Run the resolution pipeline for a transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		outcome, err := env.Resolver.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if outcome.AlreadyLinked {
			fmt.Printf("%s is already linked to client %s\n", args[0], outcome.ClientID)
			return nil
		}
		fmt.Printf("status: %s\n", outcome.Status)
		if outcome.ClientID != "" {
			fmt.Printf("client: %s (stage %s, confidence %.2f)\n", outcome.ClientID, outcome.Stage, outcome.Confidence)
		}
		if outcome.Reason != "" {
			fmt.Printf("reason: %s\n", outcome.Reason)
		}
		return nil
	},
}

var linkCmd = &cobra.Command{
	Use:   "link <transcript-id> <client-id>",
	Short: "Manually link a transcript to a client",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		outcome, err := env.Resolver.ManualLink(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if outcome.AlreadyLinked {
			fmt.Printf("%s is already linked to client %s\n", args[0], outcome.ClientID)
			return nil
		}
		fmt.Printf("linked %s to client %s\n", args[0], outcome.ClientID)
		return nil
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <transcript-id>",
	Short: "Remove a transcript's client link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Resolver.ManualUnlink(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("unlinked %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(unlinkCmd)
}
