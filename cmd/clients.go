package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/client-linker/internal/model"
)

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Manage client records",
}

var (
	clientAddOwner   string
	clientAddEmail   string
	clientAddExtra   []string
	clientAddContact string
)

var clientsAddCmd = &cobra.Command{
	Use:   "add <business-name>",
	Short: "Create a client record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		c := &model.Client{
			OwnerID:       clientAddOwner,
			BusinessName:  args[0],
			BusinessEmail: clientAddEmail,
			ExtraEmails:   clientAddExtra,
		}
		if clientAddContact != "" {
			first, last, _ := strings.Cut(clientAddContact, " ")
			c.ContactFirst = first
			c.ContactLast = last
		}
		if err := env.Store.CreateClient(cmd.Context(), c); err != nil {
			return err
		}
		fmt.Printf("created client %s\n", c.ID)
		return nil
	},
}

var clientsListOwner string

var clientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clients for an owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		clients, err := env.Store.ListClientsByOwner(cmd.Context(), clientsListOwner)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tEMAIL\tCONTACT\tSTATUS")
		for _, c := range clients {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				c.ID, c.BusinessName, c.BusinessEmail, c.ContactName(), c.Status)
		}
		return w.Flush()
	},
}

var clientsAddEmailCmd = &cobra.Command{
	Use:   "add-email <client-id> <email>",
	Short: "Add an email to a client record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Resolver.LearnEmail(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("added %s to client %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	clientsAddCmd.Flags().StringVar(&clientAddOwner, "owner", "", "owner id")
	clientsAddCmd.Flags().StringVar(&clientAddEmail, "email", "", "business email")
	clientsAddCmd.Flags().StringSliceVar(&clientAddExtra, "extra-email", nil, "additional emails (repeatable)")
	clientsAddCmd.Flags().StringVar(&clientAddContact, "contact", "", "contact full name")
	clientsAddCmd.MarkFlagRequired("owner")

	clientsListCmd.Flags().StringVar(&clientsListOwner, "owner", "", "owner id")
	clientsListCmd.MarkFlagRequired("owner")

	clientsCmd.AddCommand(clientsAddCmd)
	clientsCmd.AddCommand(clientsListCmd)
	clientsCmd.AddCommand(clientsAddEmailCmd)
	rootCmd.AddCommand(clientsCmd)
}
