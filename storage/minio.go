package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"m3u8conv/config"
	"m3u8conv/core/media"
	"m3u8conv/core/segmenter"
	"m3u8conv/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	contentTypePlaylist = "application/vnd.apple.mpegurl"
	contentTypeSegment  = "video/MP2T"
)

// MinioPublisher uploads finished HLS output to a bucket, one "directory"
// per job: <prefix>/<name>/<name>.m3u8 and <prefix>/<name>/<name>_NN.ts.
// Segment names stay relative in the playlist, so the uploaded tree plays as-is.
type MinioPublisher struct {
	client *minio.Client
	bucket string
	region string
	prefix string
}

// NewMinioPublisher 创建 MinIO 发布客户端
func NewMinioPublisher(cfg *config.Config) (*MinioPublisher, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}
	return &MinioPublisher{
		client: client,
		bucket: cfg.MinioBucket,
		region: cfg.MinioRegion,
		prefix: strings.Trim(cfg.MinioPrefix, "/"),
	}, nil
}

// Bucket is the target bucket name.
func (p *MinioPublisher) Bucket() string { return p.bucket }

// EnsureBucket creates the bucket when it does not exist yet.
func (p *MinioPublisher) EnsureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if exists {
		return nil
	}
	if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region}); err != nil {
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	logger.Info("Created bucket", logger.String("bucket", p.bucket))
	return nil
}

// Publish uploads job's segments first and the playlist last, so a reader
// never sees a playlist pointing at missing segments.
func (p *MinioPublisher) Publish(ctx context.Context, job media.ConversionJob) error {
	segs, err := segmenter.Segments(job)
	if err != nil {
		return fmt.Errorf("list segments for %s: %w", job.Name(), err)
	}
	for _, s := range segs {
		if err := p.upload(ctx, s, contentTypeSegment, job); err != nil {
			return err
		}
	}
	if err := p.upload(ctx, job.PlaylistPath(), contentTypePlaylist, job); err != nil {
		return err
	}
	logger.Info("Published HLS output",
		logger.String("bucket", p.bucket),
		logger.String("object", ObjectName(p.prefix, job, job.PlaylistPath())),
		logger.Int("segments", len(segs)))
	return nil
}

func (p *MinioPublisher) upload(ctx context.Context, file, contentType string, job media.ConversionJob) error {
	name := ObjectName(p.prefix, job, file)
	if _, err := p.client.FPutObject(ctx, p.bucket, name, file, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("上传 %s 失败: %w", name, err)
	}
	return nil
}

// ObjectName is the bucket key for a file produced by job.
func ObjectName(prefix string, job media.ConversionJob, file string) string {
	return path.Join(prefix, job.Name(), filepath.Base(file))
}
