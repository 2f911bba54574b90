package repository

import (
	"context"

	"m3u8conv/core/batch"
	"m3u8conv/logger"
	"m3u8conv/model"

	"gorm.io/gorm"
)

// ConversionRepository 转换历史数据访问接口
type ConversionRepository interface {
	Create(ctx context.Context, rec *model.ConversionRecord) error
	ListByBatch(ctx context.Context, batchID string) ([]*model.ConversionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*model.ConversionRecord, error)
}

// gormConversionRepository GORM 实现
type gormConversionRepository struct {
	db *gorm.DB
}

// NewGormConversionRepository 创建 GORM 转换历史仓库
func NewGormConversionRepository(db *gorm.DB) ConversionRepository {
	return &gormConversionRepository{db: db}
}

func (r *gormConversionRepository) Create(ctx context.Context, rec *model.ConversionRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *gormConversionRepository) ListByBatch(ctx context.Context, batchID string) ([]*model.ConversionRecord, error) {
	var recs []*model.ConversionRecord
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id ASC").
		Find(&recs).Error
	return recs, err
}

func (r *gormConversionRepository) ListRecent(ctx context.Context, limit int) ([]*model.ConversionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var recs []*model.ConversionRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// RecordFromJob maps a finished job onto a history row.
func RecordFromJob(batchID string, jr batch.JobResult) *model.ConversionRecord {
	rec := &model.ConversionRecord{
		BatchID:         batchID,
		InputPath:       jr.Job.InputPath,
		PlaylistPath:    jr.Job.PlaylistPath(),
		Segments:        jr.Segments,
		DurationSeconds: jr.DurationSeconds,
		ElapsedMillis:   jr.Elapsed.Milliseconds(),
	}
	switch jr.Outcome {
	case batch.OutcomeConverted:
		rec.Status = model.ConversionStatusConverted
	case batch.OutcomeSkipped:
		rec.Status = model.ConversionStatusSkipped
	default:
		rec.Status = model.ConversionStatusFailed
	}
	if jr.Err != nil {
		rec.Error = jr.Err.Error()
	}
	return rec
}

// Recorder writes every finished job to the repository. It implements
// batch.Observer; database errors are logged and never fail the batch.
type Recorder struct {
	repo ConversionRepository
}

// NewRecorder creates a Recorder backed by repo.
func NewRecorder(repo ConversionRepository) *Recorder {
	return &Recorder{repo: repo}
}

func (r *Recorder) OnBatchStart(string, int) {}

func (r *Recorder) OnJobDone(batchID string, jr batch.JobResult, _ batch.ProgressState) {
	rec := RecordFromJob(batchID, jr)
	if err := r.repo.Create(context.Background(), rec); err != nil {
		logger.Error("Failed to record conversion",
			logger.String("batchId", batchID),
			logger.String("input", jr.Job.InputPath),
			logger.ErrorField(err))
	}
}

func (r *Recorder) OnBatchDone(string, batch.BatchResult, error) {}
