package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"m3u8conv/core/batch"
	"m3u8conv/logger"

	"github.com/go-redis/redis/v8"
)

const (
	progressKeyPrefix = "m3u8conv:batch:"
	// ProgressTTL is how long a batch's progress hash outlives its last update.
	ProgressTTL = 24 * time.Hour
)

// Batch status values stored in the progress hash.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// ErrProgressNotFound is returned when no progress hash exists for a batch.
var ErrProgressNotFound = errors.New("batch progress not found")

// ProgressKey 生成批次进度的Redis键
func ProgressKey(batchID string) string {
	return progressKeyPrefix + batchID
}

// ProgressSnapshot is what the hash holds for one batch.
type ProgressSnapshot struct {
	BatchID   string  `json:"id"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
}

// ProgressCache mirrors batch progress into Redis so other processes can
// read it. It implements batch.Observer.
type ProgressCache struct {
	client  redis.Cmdable
	timeout time.Duration
}

// NewProgressCache creates a cache writing through client.
func NewProgressCache(client redis.Cmdable) *ProgressCache {
	return &ProgressCache{client: client, timeout: 5 * time.Second}
}

func (c *ProgressCache) write(batchID string, fields map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	key := ProgressKey(batchID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, ProgressTTL)
		return nil
	})
	if err != nil {
		logger.Warn("写入批次进度失败",
			logger.String("key", key),
			logger.ErrorField(err))
	}
}

func progressFields(p batch.ProgressState, status string) map[string]interface{} {
	return map[string]interface{}{
		"completed": p.Completed,
		"total":     p.Total,
		"percent":   strconv.FormatFloat(p.Percent(), 'f', 2, 64),
		"status":    status,
	}
}

func (c *ProgressCache) OnBatchStart(id string, total int) {
	c.write(id, progressFields(batch.ProgressState{Total: total}, StatusRunning))
}

func (c *ProgressCache) OnJobDone(id string, _ batch.JobResult, p batch.ProgressState) {
	c.write(id, progressFields(p, StatusRunning))
}

func (c *ProgressCache) OnBatchDone(id string, res batch.BatchResult, err error) {
	fields := progressFields(res.Progress, StatusDone)
	if err != nil {
		fields["status"] = StatusFailed
		fields["error"] = err.Error()
	}
	c.write(id, fields)
}

// Get reads the progress snapshot for batchID.
func (c *ProgressCache) Get(ctx context.Context, batchID string) (*ProgressSnapshot, error) {
	vals, err := c.client.HGetAll(ctx, ProgressKey(batchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read progress %s: %w", batchID, err)
	}
	if len(vals) == 0 {
		return nil, ErrProgressNotFound
	}
	return parseSnapshot(batchID, vals), nil
}

func parseSnapshot(batchID string, vals map[string]string) *ProgressSnapshot {
	s := &ProgressSnapshot{BatchID: batchID, Status: vals["status"], Error: vals["error"]}
	s.Completed, _ = strconv.Atoi(vals["completed"])
	s.Total, _ = strconv.Atoi(vals["total"])
	s.Percent, _ = strconv.ParseFloat(vals["percent"], 64)
	return s
}
