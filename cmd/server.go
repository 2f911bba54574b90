package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"m3u8conv/core/batch"
	"m3u8conv/logger"
	"m3u8conv/server"

	"github.com/spf13/cobra"
)

var (
	serverAddr    string
	serverPublish bool
	serverRecord  bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP API for submitting batches and following their progress",
	Long: `Start the HTTP API. Batches are queued on a pool of POOL_SIZE workers and
can be followed over GET /api/batches/{id} or the /ws WebSocket. When
API_JWT_SECRET is set every /api route requires a bearer token (see "token").`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cfg.HTTPAddr
		if serverAddr != "" {
			addr = serverAddr
		}
		policy, err := batch.ParsePolicy(cfg.OverwritePolicy)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, wiring{
			policy:   policy,
			publish:  serverPublish,
			record:   serverRecord,
			progress: true,
		})
		if err != nil {
			return err
		}
		defer a.close()

		pool := batch.NewPool(ctx, a.orchestrator, cfg.PoolSize)
		pool.SetRetention(time.Duration(cfg.BatchRetentionMinutes) * time.Minute)
		defer pool.Shutdown()

		deps := server.Deps{
			Queue:          pool,
			History:        a.history,
			JWTSecret:      cfg.JWTSecret,
			AllowedOrigins: cfg.CORSOrigins,
			DefaultPolicy:  policy,
		}
		if a.progress != nil {
			deps.Progress = a.progress
		}
		if cfg.JWTSecret == "" {
			logger.Warn("API_JWT_SECRET is not set, the API is unauthenticated")
		}
		return server.Start(ctx, addr, server.NewAPIHandler(deps))
	},
}

func init() {
	serverCmd.Flags().StringVar(&serverAddr, "addr", "", "listen address (default $HTTP_ADDR, or 127.0.0.1:8080 when API_JWT_SECRET is unset)")
	serverCmd.Flags().BoolVar(&serverPublish, "publish", false, "upload converted output to MinIO")
	serverCmd.Flags().BoolVar(&serverRecord, "record", false, "record conversions in the history database")
	rootCmd.AddCommand(serverCmd)
}
