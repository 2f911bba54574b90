// Package segmenter wraps the ffmpeg HLS muxer: one synchronous process per
// conversion job, producing <prefix>.m3u8 and <prefix>_NN.ts.
package segmenter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"m3u8conv/core/media"
	"m3u8conv/logger"
)

// DefaultSegmentTime is the target HLS segment duration in seconds.
const DefaultSegmentTime = 3

// stderrTail bounds how much ffmpeg output is kept in an ExternalToolError.
const stderrTail = 2048

// ExternalToolError reports that ffmpeg (or ffprobe) could not be started or
// exited non-zero.
type ExternalToolError struct {
	Tool   string
	Input  string
	Stderr string
	Err    error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s failed for %s: %v", e.Tool, e.Input, e.Err)
	if e.Stderr != "" {
		msg += "\n" + e.Stderr
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

// NotFound reports whether the tool binary was missing rather than failing.
func (e *ExternalToolError) NotFound() bool {
	return errors.Is(e.Err, exec.ErrNotFound) || errors.Is(e.Err, fs.ErrNotExist)
}

// Options controls the ffmpeg command line.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	SegmentTime int
	// Transcode re-encodes with libx264/aac; otherwise ffmpeg picks the
	// HLS muxer defaults.
	Transcode bool
}

// FFmpegSegmenter runs ffmpeg's HLS muxer for one job at a time.
type FFmpegSegmenter struct {
	opts Options
}

// New creates a segmenter, filling defaults for empty options.
func New(opts Options) *FFmpegSegmenter {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		dir, base := filepath.Split(opts.FFmpegPath)
		opts.FFprobePath = dir + strings.Replace(base, "ffmpeg", "ffprobe", 1)
	}
	if opts.SegmentTime <= 0 {
		opts.SegmentTime = DefaultSegmentTime
	}
	return &FFmpegSegmenter{opts: opts}
}

// Args builds the ffmpeg argument list (without the binary) for job.
func (s *FFmpegSegmenter) Args(job media.ConversionJob) []string {
	args := []string{"-y", "-i", job.InputPath}
	if s.opts.Transcode {
		args = append(args, "-c:v", "libx264", "-c:a", "aac")
	}
	return append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(s.opts.SegmentTime),
		"-hls_list_size", "0",
		"-hls_segment_filename", job.SegmentPattern(),
		job.PlaylistPath(),
	)
}

// Invoke runs ffmpeg for job and waits for it to exit. Segments already
// written are left in place when ffmpeg fails.
func (s *FFmpegSegmenter) Invoke(ctx context.Context, job media.ConversionJob) error {
	args := s.Args(job)
	cmd := exec.CommandContext(ctx, s.opts.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("Executing FFmpeg command",
		logger.String("bin", s.opts.FFmpegPath),
		logger.Strings("args", args),
		logger.Bool("transcode", s.opts.Transcode))

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &ExternalToolError{
			Tool:   "ffmpeg",
			Input:  job.InputPath,
			Stderr: tail(stderr.String(), stderrTail),
			Err:    err,
		}
	}
	return nil
}

var segmentIndex = regexp.MustCompile(`_(\d+)\.ts$`)

// Segments lists the segment files written for job, in name order.
func Segments(job media.ConversionJob) ([]string, error) {
	matches, err := filepath.Glob(globEscape(job.OutputPrefix) + "_*.ts")
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		// "<prefix>_extra_01.ts" belongs to another job named "<prefix>_extra".
		rest := strings.TrimPrefix(m, job.OutputPrefix)
		if segmentIndex.MatchString(rest) && strings.Count(rest, "_") == 1 {
			out = append(out, m)
		}
	}
	return out, nil
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)
	return r.Replace(s)
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe uses ffprobe to get the duration of a media file in seconds.
func (s *FFmpegSegmenter) Probe(ctx context.Context, inputFile string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		inputFile,
	}

	cmd := exec.CommandContext(ctx, s.opts.FFprobePath, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, &ExternalToolError{Tool: "ffprobe", Input: inputFile, Stderr: tail(stderr.String(), stderrTail), Err: err}
	}
	return parseDuration(out.Bytes())
}

func parseDuration(raw []byte) (float64, error) {
	var probeData ffprobeOutput
	if err := json.Unmarshal(raw, &probeData); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}
	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output")
	}
	d, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", probeData.Format.Duration, err)
	}
	return d, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
