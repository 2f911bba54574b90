package batch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"m3u8conv/core/media"
)

// gateRunner blocks every batch until release is closed and tracks how many
// run at the same time.
type gateRunner struct {
	release chan struct{}
	running atomic.Int32
	peak    atomic.Int32
}

func (g *gateRunner) Run(ctx context.Context, b Batch, obs Observer) (BatchResult, error) {
	n := g.running.Add(1)
	defer g.running.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	obs.OnBatchStart(b.ID, 1)
	select {
	case <-g.release:
	case <-ctx.Done():
		return BatchResult{ID: b.ID}, ctx.Err()
	}
	p := ProgressState{Completed: 1, Total: 1}
	obs.OnJobDone(b.ID, JobResult{Outcome: OutcomeConverted}, p)
	res := BatchResult{ID: b.ID, Request: b.Request, Progress: p}
	obs.OnBatchDone(b.ID, res, nil)
	return res, nil
}

func TestPool_LimitsConcurrentBatches(t *testing.T) {
	g := &gateRunner{release: make(chan struct{})}
	p := NewPool(context.Background(), g, 2)

	var tickets []*Ticket
	for i := 0; i < 5; i++ {
		tk, err := p.Submit(Batch{}, nil)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		tickets = append(tickets, tk)
	}

	deadline := time.Now().Add(2 * time.Second)
	for g.running.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if got := g.running.Load(); got != 2 {
		t.Errorf("running = %d, want 2", got)
	}

	close(g.release)
	for _, tk := range tickets {
		res, err := tk.Wait()
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		if res.Progress.Completed != 1 {
			t.Errorf("progress = %+v", res.Progress)
		}
	}
	if g.peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", g.peak.Load())
	}
	p.Close()
}

func TestPool_TicketProgressAndLookup(t *testing.T) {
	g := &gateRunner{release: make(chan struct{})}
	p := NewPool(context.Background(), g, 1)
	defer p.Close()

	tk, err := p.Submit(Batch{ID: "batch-1"}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got, ok := p.Get("batch-1"); !ok || got != tk {
		t.Fatal("Get should return the submitted ticket")
	}
	ch, cancel := tk.Subscribe()
	defer cancel()

	close(g.release)
	var seen []ProgressState
	for ps := range ch {
		seen = append(seen, ps)
	}
	if _, err := tk.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	ps, started := tk.Progress()
	if !started || ps.Completed != 1 || ps.Total != 1 {
		t.Errorf("Progress = %+v started=%v", ps, started)
	}
	if len(seen) == 0 {
		t.Error("subscriber saw no updates")
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := NewPool(context.Background(), &gateRunner{release: make(chan struct{})}, 1)
	p.Close()
	if _, err := p.Submit(Batch{}, nil); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("got %v, want ErrPoolClosed", err)
	}
}

func TestPool_ShutdownCancelsRunningBatch(t *testing.T) {
	g := &gateRunner{release: make(chan struct{})}
	p := NewPool(context.Background(), g, 1)
	tk, _ := p.Submit(Batch{}, nil)
	queued, _ := p.Submit(Batch{}, nil)

	p.Shutdown()
	if _, err := tk.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("running batch: got %v, want context.Canceled", err)
	}
	if _, err := queued.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("queued batch: got %v, want context.Canceled", err)
	}
}

func TestPool_RunsRealOrchestrator(t *testing.T) {
	dir := t.TempDir()
	in := touch(t, dir, "clip.mov", "x")
	out := filepath.Join(dir, "out")

	inv := &fakeInvoker{}
	p := NewPool(context.Background(), New(inv, Options{}), DefaultPoolSize)
	defer p.Close()

	obs := &recordObserver{}
	tk, err := p.Submit(Batch{Request: media.BatchRequest{InputPath: in, OutputDir: out}}, obs)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res, err := tk.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.ID != tk.ID() {
		t.Errorf("result id %s != ticket id %s", res.ID, tk.ID())
	}
	if inv.count() != 1 || obs.done != 1 {
		t.Errorf("calls=%d done=%d", inv.count(), obs.done)
	}
}

func TestTicket_SubscribeAfterFinish(t *testing.T) {
	tk := newTicket("x")
	tk.finish(BatchResult{}, nil)
	ch, cancel := tk.Subscribe()
	defer cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed for a finished ticket")
	}
}

func TestTicket_ConcurrentReaders(t *testing.T) {
	tk := newTicket("x")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, cancel := tk.Subscribe()
			defer cancel()
			for range ch {
			}
		}()
	}
	for i := 1; i <= 10; i++ {
		tk.OnJobDone("x", JobResult{}, ProgressState{Completed: i, Total: 10})
	}
	tk.finish(BatchResult{Progress: ProgressState{Completed: 10, Total: 10}}, nil)
	wg.Wait()
}

func TestPool_DropsFinishedTicketsAfterRetention(t *testing.T) {
	release := make(chan struct{})
	close(release)
	p := NewPool(context.Background(), &gateRunner{release: release}, 1)
	defer p.Close()
	p.SetRetention(30 * time.Millisecond)

	tk, err := p.Submit(Batch{ID: "old"}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := tk.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if _, ok := p.Get("old"); !ok {
		t.Fatal("finished ticket should stay reachable within retention")
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := p.Get("old"); ok {
		t.Error("finished ticket still held after retention")
	}
}

func TestPool_KeepsRunningTicketsPastRetention(t *testing.T) {
	g := &gateRunner{release: make(chan struct{})}
	p := NewPool(context.Background(), g, 1)
	p.SetRetention(time.Millisecond)

	tk, _ := p.Submit(Batch{ID: "busy"}, nil)
	time.Sleep(20 * time.Millisecond)
	if _, ok := p.Get("busy"); !ok {
		t.Error("running ticket was dropped")
	}

	p.Shutdown()
	if err := tk.Err(); !errors.Is(err, context.Canceled) {
		t.Errorf("Err after shutdown = %v, want context.Canceled", err)
	}
}
