package cmd

import (
	"context"
	"fmt"

	"m3u8conv/cache"
	"m3u8conv/config"
	"m3u8conv/core/batch"
	"m3u8conv/core/segmenter"
	"m3u8conv/db"
	"m3u8conv/logger"
	"m3u8conv/repository"
	"m3u8conv/storage"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// wiring selects which optional collaborators a command turns on.
type wiring struct {
	policy    batch.OverwritePolicy
	transcode bool
	confirmer batch.Confirmer
	publish   bool
	record    bool
	progress  bool // mirror progress into Redis when configured
}

// app holds the collaborators shared by convert, watch and server.
type app struct {
	cfg          *config.Config
	segmenter    *segmenter.FFmpegSegmenter
	orchestrator *batch.Orchestrator
	history      repository.ConversionRepository
	progress     *cache.ProgressCache

	gdb   *gorm.DB
	redis *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config, w wiring) (*app, error) {
	a := &app{cfg: cfg}
	a.segmenter = segmenter.New(segmenter.Options{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		SegmentTime: cfg.HLSSegmentTime,
		Transcode:   w.transcode || cfg.Transcode,
	})

	var observers batch.Observers
	opts := batch.Options{
		Policy:    w.policy,
		Confirmer: w.confirmer,
	}

	if w.record {
		if !cfg.DBEnabled() {
			return nil, fmt.Errorf("--record needs DB_HOST to be configured")
		}
		gdb, err := db.ConnectGormDB(cfg)
		if err != nil {
			return nil, err
		}
		a.gdb = gdb
		a.history = repository.NewGormConversionRepository(gdb)
		observers = append(observers, repository.NewRecorder(a.history))
		// durations only matter for the history rows
		opts.Prober = a.segmenter
	}

	if w.progress && cfg.RedisEnabled() {
		client, err := cache.ConnectRedis(ctx, cfg)
		if err != nil {
			a.close()
			return nil, err
		}
		a.redis = client
		a.progress = cache.NewProgressCache(client)
		observers = append(observers, a.progress)
	}

	if w.publish {
		if !cfg.MinioEnabled() {
			a.close()
			return nil, fmt.Errorf("--publish needs MINIO_ENDPOINT to be configured")
		}
		pub, err := storage.NewMinioPublisher(cfg)
		if err != nil {
			a.close()
			return nil, err
		}
		if err := pub.EnsureBucket(ctx); err != nil {
			a.close()
			return nil, err
		}
		opts.Publisher = pub
	}

	if len(observers) > 0 {
		opts.Observer = observers
	}
	a.orchestrator = batch.New(a.segmenter, opts)
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Warn("closing redis client", logger.ErrorField(err))
		}
	}
	if err := db.CloseGormDB(a.gdb); err != nil {
		logger.Warn("closing history database", logger.ErrorField(err))
	}
}
