package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/hyperengineering/vitalsync/internal/config"
	"github.com/hyperengineering/vitalsync/internal/store"
	"github.com/spf13/cobra"
)

var statusJSONOutput bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the sync backlog without running a cycle",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false, "Output in JSON format")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	report, err := db.StatusReport(cmd.Context())
	if err != nil {
		return err
	}

	if statusJSONOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "clients\t%d total, %d unsynced, %d invalid\n",
		report.TotalClients, report.UnsyncedClients, report.InvalidClients)
	fmt.Fprintf(w, "events\t%d total, %d unsynced, %d invalid\n",
		report.TotalEvents, report.UnsyncedEvents, report.InvalidEvents)
	fmt.Fprintf(w, "watermark\t%d\n", report.Watermark)
	if report.LastCheckAt != nil {
		fmt.Fprintf(w, "last check\t%s\n", report.LastCheckAt.Format("2006-01-02 15:04:05 MST"))
	} else {
		fmt.Fprintf(w, "last check\tnever\n")
	}
	return w.Flush()
}
