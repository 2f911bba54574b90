package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"m3u8conv/core/batch"
	"m3u8conv/core/watch"
	"m3u8conv/logger"

	"github.com/spf13/cobra"
)

var (
	watchOutput    string
	watchOverwrite string
	watchTranscode bool
	watchPublish   bool
	watchRecord    bool
	watchSettle    time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Convert media files as they are dropped into a directory",
	Long: `Watch a directory and convert every supported media file that appears in it,
once the file has stopped growing. Runs until interrupted. Prompts are not
possible here, so "ask" behaves like "skip".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := batch.ParsePolicy(watchOverwrite)
		if err != nil {
			return err
		}
		settle := watchSettle
		if !cmd.Flags().Changed("settle") {
			settle = time.Duration(cfg.WatchSettle) * time.Second
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, wiring{
			policy:    policy,
			transcode: watchTranscode,
			publish:   watchPublish,
			record:    watchRecord,
			progress:  true,
		})
		if err != nil {
			return err
		}
		defer a.close()

		pool := batch.NewPool(ctx, a.orchestrator, cfg.PoolSize)
		pool.SetRetention(time.Duration(cfg.BatchRetentionMinutes) * time.Minute)
		defer pool.Shutdown()

		logger.Debug("Watch pool ready", logger.Int("workers", cfg.PoolSize))
		w := watch.New(args[0], watchOutput, settle, pool, batch.Batch{
			Policy:          policy,
			ContinueOnError: true,
		})
		return w.Run(ctx)
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "", "output directory (created if missing)")
	watchCmd.Flags().StringVar(&watchOverwrite, "overwrite", "skip", "existing playlist handling: skip, overwrite, fail")
	watchCmd.Flags().BoolVar(&watchTranscode, "transcode", false, "force libx264/aac instead of the HLS muxer's default codecs")
	watchCmd.Flags().BoolVar(&watchPublish, "publish", false, "upload converted output to MinIO")
	watchCmd.Flags().BoolVar(&watchRecord, "record", false, "record conversions in the history database")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 2*time.Second, "how long a file must stay unchanged before it is converted")
	_ = watchCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(watchCmd)
}
