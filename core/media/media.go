// Package media decides which files are convertible and turns a batch
// request into the list of conversion jobs.
package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"m3u8conv/logger"
)

var (
	// ErrInputNotFound is returned when the input path does not exist.
	ErrInputNotFound = errors.New("input not found")
	// ErrUnsupportedType is returned for a file whose extension is not a supported media type.
	ErrUnsupportedType = errors.New("unsupported file type")
)

// Supported media file extensions (lowercase, with leading dot).
var mediaExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mkv":  true,
	".mov":  true,
	".wmv":  true,
	".mp3":  true,
	".wav":  true,
	".flac": true,
}

// IsSupported reports whether path has a supported extension, ignoring case.
func IsSupported(path string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(path))]
}

// Extensions returns the supported extensions without the leading dot.
func Extensions() []string {
	return []string{"mp4", "avi", "mkv", "mov", "wmv", "mp3", "wav", "flac"}
}

// BatchRequest is what a surface (CLI, watcher, HTTP) hands to the orchestrator.
type BatchRequest struct {
	InputPath string `json:"input"`
	OutputDir string `json:"output"`
}

// ConversionJob is one input file and the prefix its HLS output is written under.
type ConversionJob struct {
	InputPath    string
	OutputPrefix string
}

// NewJob derives the output prefix for input inside outputDir.
func NewJob(input, outputDir string) ConversionJob {
	base := filepath.Base(input)
	return ConversionJob{
		InputPath:    input,
		OutputPrefix: filepath.Join(outputDir, strings.TrimSuffix(base, filepath.Ext(base))),
	}
}

// Name is the base name shared by the playlist and its segments.
func (j ConversionJob) Name() string { return filepath.Base(j.OutputPrefix) }

// PlaylistPath is <prefix>.m3u8.
func (j ConversionJob) PlaylistPath() string { return j.OutputPrefix + ".m3u8" }

// SegmentPattern is the ffmpeg segment filename template <prefix>_%02d.ts.
// A literal % in the prefix is doubled so ffmpeg does not read it as a
// directive.
func (j ConversionJob) SegmentPattern() string {
	return strings.ReplaceAll(j.OutputPrefix, "%", "%%") + "_%02d.ts"
}

// Expand lists the jobs for req. A directory yields one job per supported
// entry (non-recursive, in os.ReadDir order); a supported file yields one job.
// An empty directory yields no jobs and no error.
func Expand(req BatchRequest) ([]ConversionJob, error) {
	fi, err := os.Stat(req.InputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, req.InputPath)
		}
		return nil, fmt.Errorf("stat input %s: %w", req.InputPath, err)
	}

	if !fi.IsDir() {
		if !fi.Mode().IsRegular() || !IsSupported(req.InputPath) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, req.InputPath)
		}
		return []ConversionJob{NewJob(req.InputPath, req.OutputDir)}, nil
	}

	entries, err := os.ReadDir(req.InputPath)
	if err != nil {
		return nil, fmt.Errorf("read input dir %s: %w", req.InputPath, err)
	}
	jobs := make([]ConversionJob, 0, len(entries))
	owners := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsSupported(e.Name()) {
			continue
		}
		job := NewJob(filepath.Join(req.InputPath, e.Name()), req.OutputDir)
		// clip.mp4 and clip.mkv share one playlist; the later job meets the
		// earlier one's output and is resolved by the overwrite policy.
		if first, ok := owners[job.OutputPrefix]; ok {
			logger.Warn("Inputs share an output name",
				logger.String("input", job.InputPath),
				logger.String("conflictsWith", first),
				logger.String("playlist", job.PlaylistPath()))
		} else {
			owners[job.OutputPrefix] = job.InputPath
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
