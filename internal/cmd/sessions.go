package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/calyptra/tether/internal/cache"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List cached conversations",
	Long: `List the conversations held in the local cache, newest first.
Expired records are omitted.`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete one cached conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all cached conversations",
	Args:  cobra.NoArgs,
	RunE:  runSessionsClear,
}

func init() {
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsClearCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openStore() (*cache.Store, error) {
	store, err := cache.NewStore(cache.Config{
		MaxRecords: cfg.Cache.MaxRecords,
		MaxAge:     cfg.Cache.MaxAge.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation cache: %w", err)
	}
	return store, nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	records := store.LoadAll()
	if len(records) == 0 {
		fmt.Println("No cached conversations.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tMESSAGES\tLAST ACTIVITY\tPACKAGES")
	for _, rec := range records {
		packages := ""
		if rec.Metadata.HasPackages {
			packages = "yes"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			rec.SessionID,
			rec.Metadata.MessageCount,
			rec.Metadata.LastActivity.Format(time.RFC3339),
			packages)
	}
	return w.Flush()
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	store.Delete(args[0])
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

func runSessionsClear(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	store.Clear()
	fmt.Println("Cache cleared.")
	return nil
}
