package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"m3u8conv/core/media"
	"m3u8conv/core/segmenter"
)

// fakeInvoker writes a playlist and one segment per job, like ffmpeg would.
type fakeInvoker struct {
	mu    sync.Mutex
	calls []media.ConversionJob
	fail  map[string]error // keyed by input base name
	block chan struct{}
}

func (f *fakeInvoker) Invoke(ctx context.Context, job media.ConversionJob) error {
	f.mu.Lock()
	f.calls = append(f.calls, job)
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := f.fail[filepath.Base(job.InputPath)]; err != nil {
		return err
	}
	if err := os.WriteFile(job.PlaylistPath(), []byte("#EXTM3U\n"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(job.OutputPrefix+"_00.ts", []byte("ts"), 0o644)
}

func (f *fakeInvoker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordObserver struct {
	mu       sync.Mutex
	started  int
	progress []ProgressState
	done     int
	lastErr  error
}

func (o *recordObserver) OnBatchStart(_ string, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = total
}

func (o *recordObserver) OnJobDone(_ string, _ JobResult, p ProgressState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, p)
}

func (o *recordObserver) OnBatchDone(_ string, _ BatchResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done++
	o.lastErr = err
}

type answer struct {
	ok    bool
	asked []string
}

func (a *answer) ConfirmOverwrite(playlist string) (bool, error) {
	a.asked = append(a.asked, playlist)
	return a.ok, nil
}

func touch(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestRun_SingleFileProducesPlaylist(t *testing.T) {
	dir := t.TempDir()
	in := touch(t, dir, "clip.mp4", "x")
	out := filepath.Join(dir, "out")

	inv := &fakeInvoker{}
	obs := &recordObserver{}
	res, err := New(inv, Options{}).Run(context.Background(), Batch{Request: media.BatchRequest{InputPath: in, OutputDir: out}}, obs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if inv.count() != 1 {
		t.Fatalf("invocations = %d, want 1", inv.count())
	}
	if inv.calls[0].OutputPrefix != filepath.Join(out, "clip") {
		t.Errorf("prefix = %s", inv.calls[0].OutputPrefix)
	}
	if _, err := os.Stat(filepath.Join(out, "clip.m3u8")); err != nil {
		t.Errorf("playlist missing: %v", err)
	}
	if res.ID == "" {
		t.Error("batch id should be generated")
	}
	if res.Jobs[0].Outcome != OutcomeConverted || res.Jobs[0].Segments != 1 {
		t.Errorf("job result = %+v", res.Jobs[0])
	}
	if obs.started != 1 || len(obs.progress) != 1 || obs.progress[0].Percent() != 100 {
		t.Errorf("observer = %+v", obs)
	}
}

func TestRun_DirectoryProgressSequence(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	if err := os.Mkdir(in, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, n := range []string{"a.mp4", "b.mp3", "c.wav", "d.flac", "skip.txt"} {
		touch(t, in, n, "x")
	}

	obs := &recordObserver{}
	inv := &fakeInvoker{}
	res, err := New(inv, Options{}).Run(context.Background(),
		Batch{Request: media.BatchRequest{InputPath: in, OutputDir: filepath.Join(dir, "out")}}, obs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if inv.count() != 4 {
		t.Errorf("invocations = %d, want 4", inv.count())
	}
	want := []float64{25, 50, 75, 100}
	for i, p := range obs.progress {
		if p.Percent() != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, p.Percent(), want[i])
		}
	}
	if res.Progress != (ProgressState{Completed: 4, Total: 4}) {
		t.Errorf("final progress = %+v", res.Progress)
	}
}

func TestRun_EmptyDirectoryCreatesOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "a", "b", "out")

	inv := &fakeInvoker{}
	res, err := New(inv, Options{}).Run(context.Background(),
		Batch{Request: media.BatchRequest{InputPath: t.TempDir(), OutputDir: out}}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Jobs) != 0 || inv.count() != 0 {
		t.Errorf("expected zero jobs, got %d", len(res.Jobs))
	}
	if fi, err := os.Stat(out); err != nil || !fi.IsDir() {
		t.Errorf("output dir not created: %v", err)
	}
	if res.Progress.Percent() != 100 {
		t.Errorf("empty batch percent = %v", res.Progress.Percent())
	}
}

func TestRun_ExistingOutputDirIsFine(t *testing.T) {
	dir := t.TempDir()
	in := touch(t, dir, "clip.mp4", "x")
	if _, err := New(&fakeInvoker{}, Options{}).Run(context.Background(),
		Batch{Request: media.BatchRequest{InputPath: in, OutputDir: dir}}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_InputErrors(t *testing.T) {
	dir := t.TempDir()
	txt := touch(t, dir, "notes.txt", "x")
	out := filepath.Join(dir, "out")
	o := New(&fakeInvoker{}, Options{})

	obs := &recordObserver{}
	_, err := o.Run(context.Background(), Batch{Request: media.BatchRequest{InputPath: filepath.Join(dir, "gone"), OutputDir: out}}, obs)
	if !errors.Is(err, media.ErrInputNotFound) {
		t.Errorf("got %v, want ErrInputNotFound", err)
	}
	if obs.done != 1 || obs.started != 0 {
		t.Errorf("observer should see only OnBatchDone: %+v", obs)
	}

	_, err = o.Run(context.Background(), Batch{Request: media.BatchRequest{InputPath: txt, OutputDir: out}}, nil)
	if !errors.Is(err, media.ErrUnsupportedType) {
		t.Errorf("got %v, want ErrUnsupportedType", err)
	}
}

func TestRun_SkipPolicyLeavesExistingPlaylist(t *testing.T) {
	dir := t.TempDir()
	in := touch(t, dir, "clip.mp4", "x")
	out := filepath.Join(dir, "out")
	if err := os.Mkdir(out, 0o755); err != nil {
		t.Fatal(err)
	}
	existing := touch(t, out, "clip.m3u8", "original")

	inv := &fakeInvoker{}
	res, err := New(inv, Options{Policy: PolicySkip}).Run(context.Background(),
		Batch{Request: media.BatchRequest{InputPath: in, OutputDir: out}}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if inv.count() != 0 {
		t.Errorf("ffmpeg should not run, got %d calls", inv.count())
	}
	if res.Jobs[0].Outcome != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", res.Jobs[0].Outcome)
	}
	data, _ := os.ReadFile(existing)
	if string(data) != "original" {
		t.Errorf("playlist was modified: %q", data)
	}
}

func TestRun_AskPolicy(t *testing.T) {
	dir := t.TempDir()
	in := touch(t, dir, "clip.mp4", "x")
	touch(t, dir, "clip.m3u8", "original")
	req := media.BatchRequest{InputPath: in, OutputDir: dir}

	t.Run("declined", func(t *testing.T) {
		inv := &fakeInvoker{}
		a := &answer{ok: false}
		res, err := New(inv, Options{Confirmer: a}).Run(context.Background(), Batch{Request: req}, nil)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if len(a.asked) != 1 || inv.count() != 0 || res.Jobs[0].Outcome != OutcomeSkipped {
			t.Errorf("asked=%v calls=%d outcome=%s", a.asked, inv.count(), res.Jobs[0].Outcome)
		}
	})

	t.Run("no confirmer skips", func(t *testing.T) {
		inv := &fakeInvoker{}
		res, _ := New(inv, Options{Policy: PolicyAsk}).Run(context.Background(), Batch{Request: req}, nil)
		if inv.count() != 0 || res.Jobs[0].Outcome != OutcomeSkipped {
			t.Errorf("calls=%d outcome=%s", inv.count(), res.Jobs[0].Outcome)
		}
	})

	t.Run("accepted", func(t *testing.T) {
		inv := &fakeInvoker{}
		res, err := New(inv, Options{Confirmer: &answer{ok: true}}).Run(context.Background(), Batch{Request: req}, nil)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if inv.count() != 1 || res.Jobs[0].Outcome != OutcomeConverted {
			t.Errorf("calls=%d outcome=%s", inv.count(), res.Jobs[0].Outcome)
		}
	})
}

func TestRun_FailPolicyAndBatchOverride(t *testing.T) {
	dir := t.TempDir()
	in := touch(t, dir, "clip.mp4", "x")
	touch(t, dir, "clip.m3u8", "original")
	req := media.BatchRequest{InputPath: in, OutputDir: dir}

	o := New(&fakeInvoker{}, Options{Policy: PolicyFail})
	_, err := o.Run(context.Background(), Batch{Request: req}, nil)
	if !errors.Is(err, ErrOutputExists) {
		t.Errorf("got %v, want ErrOutputExists", err)
	}

	res, err := o.Run(context.Background(), Batch{Request: req, Policy: PolicyOverwrite}, nil)
	if err != nil || res.Jobs[0].Outcome != OutcomeConverted {
		t.Errorf("overwrite override: err=%v outcome=%s", err, res.Jobs[0].Outcome)
	}
}

func TestRun_AbortsOnFirstFailure(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		touch(t, dir, n, "x")
	}
	toolErr := &segmenter.ExternalToolError{Tool: "ffmpeg", Input: "b.mp4", Err: errors.New("exit status 1")}
	inv := &fakeInvoker{fail: map[string]error{"b.mp4": toolErr}}
	out := filepath.Join(dir, "out")

	res, err := New(inv, Options{}).Run(context.Background(), Batch{Request: media.BatchRequest{InputPath: dir, OutputDir: out}}, nil)
	var te *segmenter.ExternalToolError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want ExternalToolError", err)
	}
	if inv.count() != 2 || len(res.Jobs) != 2 {
		t.Errorf("batch should stop after b.mp4: calls=%d jobs=%d", inv.count(), len(res.Jobs))
	}
}

func TestRun_ContinueOnError(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		touch(t, dir, n, "x")
	}
	inv := &fakeInvoker{fail: map[string]error{"a.mp4": errors.New("boom")}}

	res, err := New(inv, Options{}).Run(context.Background(),
		Batch{Request: media.BatchRequest{InputPath: dir, OutputDir: filepath.Join(dir, "out")}, ContinueOnError: true}, nil)
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if res.Count(OutcomeFailed) != 1 || res.Count(OutcomeConverted) != 2 {
		t.Errorf("failed=%d converted=%d", res.Count(OutcomeFailed), res.Count(OutcomeConverted))
	}
}

func TestRun_CancelledContextStopsBatch(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.mp4", "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := &fakeInvoker{}
	_, err := New(inv, Options{}).Run(ctx, Batch{Request: media.BatchRequest{InputPath: dir, OutputDir: filepath.Join(dir, "out")}}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if inv.count() != 0 {
		t.Errorf("no job should run, got %d", inv.count())
	}
}

type stubProber struct{ d float64 }

func (s stubProber) Probe(context.Context, string) (float64, error) { return s.d, nil }

type recordPublisher struct{ jobs []string }

func (p *recordPublisher) Publish(_ context.Context, job media.ConversionJob) error {
	p.jobs = append(p.jobs, job.Name())
	return errors.New("bucket unreachable")
}

func TestRun_ProbeAndPublishHooks(t *testing.T) {
	dir := t.TempDir()
	in := touch(t, dir, "clip.mp4", "x")
	pub := &recordPublisher{}

	res, err := New(&fakeInvoker{}, Options{Prober: stubProber{d: 42.5}, Publisher: pub}).Run(context.Background(),
		Batch{Request: media.BatchRequest{InputPath: in, OutputDir: filepath.Join(dir, "out")}}, nil)
	if err != nil {
		t.Fatalf("publish errors must not fail the batch: %v", err)
	}
	if res.Jobs[0].DurationSeconds != 42.5 {
		t.Errorf("duration = %v", res.Jobs[0].DurationSeconds)
	}
	if len(pub.jobs) != 1 || pub.jobs[0] != "clip" {
		t.Errorf("published = %v", pub.jobs)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]OverwritePolicy{"": PolicyAsk, "SKIP": PolicySkip, " overwrite ": PolicyOverwrite, "fail": PolicyFail} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("maybe"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestRun_SharedOutputNameSkipsSecond(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	if err := os.Mkdir(in, 0o755); err != nil {
		t.Fatal(err)
	}
	touch(t, in, "clip.mp4", "x")
	touch(t, in, "clip.mkv", "x")
	out := filepath.Join(dir, "out")

	inv := &fakeInvoker{}
	res, err := New(inv, Options{Policy: PolicySkip}).Run(context.Background(),
		Batch{Request: media.BatchRequest{InputPath: in, OutputDir: out}}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if inv.count() != 1 {
		t.Errorf("invocations = %d, want 1", inv.count())
	}
	if res.Count(OutcomeConverted) != 1 || res.Count(OutcomeSkipped) != 1 {
		t.Errorf("converted=%d skipped=%d", res.Count(OutcomeConverted), res.Count(OutcomeSkipped))
	}
	if res.Progress.Completed != 2 {
		t.Errorf("progress = %+v", res.Progress)
	}
}
