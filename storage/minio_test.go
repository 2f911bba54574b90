package storage

import (
	"testing"

	"m3u8conv/config"
	"m3u8conv/core/media"
)

func TestObjectName(t *testing.T) {
	job := media.NewJob("/videos/clip.mp4", "/out")
	cases := []struct {
		prefix, file, want string
	}{
		{"streams", "/out/clip.m3u8", "streams/clip/clip.m3u8"},
		{"streams", "/out/clip_03.ts", "streams/clip/clip_03.ts"},
		{"", "/out/clip_00.ts", "clip/clip_00.ts"},
	}
	for _, c := range cases {
		if got := ObjectName(c.prefix, job, c.file); got != c.want {
			t.Errorf("ObjectName(%q, %q) = %q, want %q", c.prefix, c.file, got, c.want)
		}
	}
}

func TestNewMinioPublisher_TrimsPrefix(t *testing.T) {
	p, err := NewMinioPublisher(&config.Config{
		MinioEndpoint: "localhost:9000",
		MinioBucket:   "hls",
		MinioPrefix:   "/streams/",
	})
	if err != nil {
		t.Fatalf("NewMinioPublisher: %v", err)
	}
	if p.prefix != "streams" || p.Bucket() != "hls" {
		t.Errorf("prefix=%q bucket=%q", p.prefix, p.Bucket())
	}
}

func TestFormatSize(t *testing.T) {
	cases := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for in, want := range cases {
		if got := FormatSize(in); got != want {
			t.Errorf("FormatSize(%d) = %s, want %s", in, got, want)
		}
	}
}
