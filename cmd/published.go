package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"m3u8conv/storage"

	"github.com/spf13/cobra"
)

var (
	publishedPrefix string
	publishedStats  bool
)

var publishedCmd = &cobra.Command{
	Use:   "published",
	Short: "List HLS output published to MinIO",
	Long:  `List the playlists and segments uploaded with --publish, or only the bucket totals with --stats.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.MinioEnabled() {
			return fmt.Errorf("published needs MINIO_ENDPOINT to be configured")
		}
		pub, err := storage.NewMinioPublisher(cfg)
		if err != nil {
			return err
		}

		prefix := publishedPrefix
		if prefix == "" {
			prefix = cfg.MinioPrefix
		}
		objects, stats, err := pub.List(cmd.Context(), prefix)
		if err != nil {
			return err
		}

		fmt.Printf("Bucket: %s  Prefix: %s\n", pub.Bucket(), prefix)
		if !publishedStats {
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, obj := range objects {
				fmt.Fprintf(tw, "%s\t%s\t%s\n",
					obj.LastModified.Format("2006-01-02 15:04:05"),
					storage.FormatSize(obj.Size),
					obj.Key)
			}
			tw.Flush()
		}
		fmt.Printf("%d object(s), %s", stats.TotalObjects, storage.FormatSize(stats.TotalSize))
		if !stats.LastModified.IsZero() {
			fmt.Printf(", last upload %s", stats.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	publishedCmd.Flags().StringVarP(&publishedPrefix, "prefix", "p", "", "object prefix (default $MINIO_PREFIX)")
	publishedCmd.Flags().BoolVarP(&publishedStats, "stats", "s", false, "only print totals")
	rootCmd.AddCommand(publishedCmd)
}
