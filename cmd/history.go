package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"m3u8conv/db"
	"m3u8conv/model"
	"m3u8conv/repository"

	"github.com/spf13/cobra"
)

var (
	historyBatch string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded conversions",
	Long:  `List conversions recorded with --record, newest first, or every job of one batch with --batch.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.DBEnabled() {
			return fmt.Errorf("history needs DB_HOST to be configured")
		}
		gdb, err := db.ConnectGormDB(cfg)
		if err != nil {
			return err
		}
		defer db.CloseGormDB(gdb)

		repo := repository.NewGormConversionRepository(gdb)
		var recs []*model.ConversionRecord
		if historyBatch != "" {
			recs, err = repo.ListByBatch(cmd.Context(), historyBatch)
		} else {
			recs, err = repo.ListRecent(cmd.Context(), historyLimit)
		}
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No conversions recorded.")
			return nil
		}
		printRecords(recs)
		return nil
	},
}

func printRecords(recs []*model.ConversionRecord) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tBATCH\tSTATUS\tSEGMENTS\tDURATION\tINPUT\tERROR")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.1fs\t%s\t%s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			shortID(r.BatchID),
			r.Status,
			r.Segments,
			r.DurationSeconds,
			r.InputPath,
			r.Error)
	}
	tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	historyCmd.Flags().StringVar(&historyBatch, "batch", "", "show only this batch id")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of recent conversions to list")
	rootCmd.AddCommand(historyCmd)
}
