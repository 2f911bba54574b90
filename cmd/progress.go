package cmd

import (
	"errors"
	"fmt"

	"m3u8conv/cache"

	"github.com/spf13/cobra"
)

var progressCmd = &cobra.Command{
	Use:   "progress <batch-id>",
	Short: "Show a batch's progress as stored in Redis",
	Long:  `Read the progress another convert, watch or server process mirrored into Redis.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.RedisEnabled() {
			return fmt.Errorf("progress needs REDIS_HOST to be configured")
		}
		client, err := cache.ConnectRedis(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		snap, err := cache.NewProgressCache(client).Get(cmd.Context(), args[0])
		if errors.Is(err, cache.ErrProgressNotFound) {
			return fmt.Errorf("no progress stored for batch %s (expired after %s or never started)", args[0], cache.ProgressTTL)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Batch:    %s\n", snap.BatchID)
		fmt.Printf("Status:   %s\n", snap.Status)
		fmt.Printf("Progress: %d/%d (%.1f%%)\n", snap.Completed, snap.Total, snap.Percent)
		if snap.Error != "" {
			fmt.Printf("Error:    %s\n", snap.Error)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(progressCmd)
}
