package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/client-linker/internal/model"
	"github.com/sells-group/client-linker/internal/store"
)

var (
	transcriptsOwner  string
	transcriptsStatus string
	transcriptsLimit  int
)

var transcriptsCmd = &cobra.Command{
	Use:   "transcripts",
	Short: "List transcripts",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		list, err := env.Store.ListTranscripts(cmd.Context(), store.TranscriptFilter{
			OwnerID: transcriptsOwner,
			Status:  model.LinkingStatus(transcriptsStatus),
			Limit:   transcriptsLimit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tDATE\tSTATUS\tCLIENT")
		for _, t := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				t.ID, t.Title, t.MeetingDate.Format("2006-01-02"), t.LinkingStatus, t.ClientID)
		}
		return w.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <transcript-id>",
	Short: "Show a transcript's resolution ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		t, err := env.Store.GetTranscript(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		attempts, err := env.Store.ListAttempts(cmd.Context(), t.ID)
		if err != nil {
			return err
		}

		fmt.Printf("%s  %s  (%s)\n", t.ID, t.Title, t.LinkingStatus)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AT\tSTAGE\tOUTCOME\tCONFIDENCE\tCLIENT\tREASON")
		for _, a := range attempts {
			conf := "-"
			if a.Confidence != nil {
				conf = fmt.Sprintf("%.2f", *a.Confidence)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				a.CreatedAt.Format("2006-01-02 15:04:05"), a.Stage, a.Outcome, conf, a.ClientID, a.Reason)
		}
		return w.Flush()
	},
}

func init() {
	transcriptsCmd.Flags().StringVar(&transcriptsOwner, "owner", "", "filter by owner id")
	transcriptsCmd.Flags().StringVar(&transcriptsStatus, "status", "", "filter by linking status")
	transcriptsCmd.Flags().IntVar(&transcriptsLimit, "limit", 50, "maximum rows")
	rootCmd.AddCommand(transcriptsCmd)
	rootCmd.AddCommand(historyCmd)
}
