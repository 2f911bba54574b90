package cmd

import (
	"fmt"
	"os"

	"m3u8conv/config"
	"m3u8conv/logger"

	"github.com/spf13/cobra"
)

var (
	cfg *config.Config

	logLevel   string
	logFile    string
	logJSON    bool
	ffmpegPath string
)

var rootCmd = &cobra.Command{
	Use:           "m3u8conv",
	Short:         "Convert local video/audio files into HLS (m3u8 + ts) with ffmpeg.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if cmd.Flags().Changed("log-level") || cfg.LogLevel == "" {
			cfg.LogLevel = logLevel
		}
		if logFile != "" {
			cfg.LogFile = logFile
		}
		if ffmpegPath != "" {
			cfg.FFmpegPath = ffmpegPath
		}
		return logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(cfg.LogLevel),
			OutputPath: cfg.LogFile,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAge,
			Compress:   true,
			Console:    !logJSON,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file (rotated)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "JSON console logs instead of human readable ones")
	rootCmd.PersistentFlags().StringVar(&ffmpegPath, "ffmpeg", "", "path to the ffmpeg binary (default $FFMPEG_PATH or ffmpeg)")
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
