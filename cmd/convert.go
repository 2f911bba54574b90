package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"m3u8conv/core/batch"
	"m3u8conv/core/media"
	"m3u8conv/core/segmenter"
	"m3u8conv/logger"

	"github.com/spf13/cobra"
)

var (
	convertOutput          string
	convertOverwrite       string
	convertTranscode       bool
	convertContinueOnError bool
	convertPublish         bool
	convertRecord          bool
	convertSegmentTime     int
)

var convertCmd = &cobra.Command{
	Use:   "convert <input>",
	Short: "Convert a media file, or every supported file in a directory, to HLS",
	Long: `Convert a single media file or all supported media files directly inside a
directory (not recursive) into HLS playlists. Each input <name>.<ext> produces
<output>/<name>.m3u8 and <output>/<name>_NN.ts.

Supported extensions: ` + fmt.Sprint(media.Extensions()),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		policyName := cfg.OverwritePolicy
		if cmd.Flags().Changed("overwrite") {
			policyName = convertOverwrite
		}
		policy, err := batch.ParsePolicy(policyName)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("segment-time") {
			cfg.HLSSegmentTime = convertSegmentTime
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w := wiring{
			policy:    policy,
			transcode: convertTranscode,
			publish:   convertPublish,
			record:    convertRecord,
			progress:  true,
		}
		if policy == batch.PolicyAsk && isTerminal(os.Stdin) {
			w.confirmer = newPromptConfirmer(os.Stdin, os.Stderr)
		}
		a, err := newApp(ctx, cfg, w)
		if err != nil {
			return err
		}
		defer a.close()

		pool := batch.NewPool(ctx, a.orchestrator, 1)
		defer pool.Shutdown()

		tk, err := pool.Submit(batch.Batch{
			Request:         media.BatchRequest{InputPath: args[0], OutputDir: convertOutput},
			Policy:          policy,
			ContinueOnError: convertContinueOnError,
		}, progressPrinter{out: os.Stderr})
		if err != nil {
			return err
		}
		res, err := tk.Wait()
		printSummary(res)
		return explain(err)
	},
}

func init() {
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "output directory (created if missing)")
	convertCmd.Flags().StringVar(&convertOverwrite, "overwrite", "ask", "existing playlist handling: ask, skip, overwrite, fail")
	convertCmd.Flags().BoolVar(&convertTranscode, "transcode", false, "force libx264/aac instead of the HLS muxer's default codecs")
	convertCmd.Flags().BoolVar(&convertContinueOnError, "continue-on-error", false, "keep converting after a file fails")
	convertCmd.Flags().BoolVar(&convertPublish, "publish", false, "upload each converted playlist and its segments to MinIO")
	convertCmd.Flags().BoolVar(&convertRecord, "record", false, "record every conversion in the history database")
	convertCmd.Flags().IntVar(&convertSegmentTime, "segment-time", 3, "target segment duration in seconds")
	_ = convertCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(convertCmd)
}

// progressPrinter reports each finished job on the terminal.
type progressPrinter struct {
	out io.Writer
}

func (p progressPrinter) OnBatchStart(id string, total int) {
	fmt.Fprintf(p.out, "Batch %s: %d file(s)\n", id, total)
}

func (p progressPrinter) OnJobDone(_ string, res batch.JobResult, progress batch.ProgressState) {
	line := fmt.Sprintf("[%d/%d] %5.1f%% %-9s %s", progress.Completed, progress.Total,
		progress.Percent(), res.Outcome, res.Job.InputPath)
	if res.Err != nil {
		line += ": " + res.Err.Error()
	}
	fmt.Fprintln(p.out, line)
}

func (p progressPrinter) OnBatchDone(string, batch.BatchResult, error) {}

func printSummary(res batch.BatchResult) {
	if res.FinishedAt.IsZero() || res.Jobs == nil {
		return
	}
	elapsed := res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond)
	fmt.Fprintf(os.Stderr, "Done in %s: %d converted, %d skipped, %d failed (%d/%d)\n",
		elapsed,
		res.Count(batch.OutcomeConverted),
		res.Count(batch.OutcomeSkipped),
		res.Count(batch.OutcomeFailed),
		res.Progress.Completed, res.Progress.Total)
}

// explain adds a hint for the errors an operator can fix.
func explain(err error) error {
	if err == nil {
		return nil
	}
	var toolErr *segmenter.ExternalToolError
	switch {
	case errors.As(err, &toolErr) && toolErr.NotFound():
		return fmt.Errorf("%w (install ffmpeg or point --ffmpeg / FFMPEG_PATH at it)", err)
	case errors.Is(err, batch.ErrOutputExists):
		return fmt.Errorf("%w (use --overwrite overwrite or --overwrite skip)", err)
	case errors.Is(err, context.Canceled):
		logger.Warn("Batch interrupted")
	}
	return err
}
