package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/probefire/internal/history"
)

func newHistoryCommand(stdout io.Writer) *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history --db <path>",
		Short: "List recent runs recorded with --history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listHistory(cmd.Context(), dbPath, limit, stdout)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite history database")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func listHistory(ctx context.Context, path string, limit int, stdout io.Writer) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(stdout, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tTOTAL\tPASSED\tFAILED\tERRORED\tRETRIES\tP95\tRESULT")
	for _, r := range records {
		result := "pass"
		if !r.OK() {
			result = "fail"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%.1fms\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Total, r.Passed, r.Failed,
			r.Errored, r.Retries, r.P95Ms, result)
	}
	return tw.Flush()
}
