package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"m3u8conv/logger"

	"github.com/google/uuid"
)

// DefaultPoolSize is how many batches may run at once.
const DefaultPoolSize = 2

// DefaultRetention is how long a finished batch stays reachable through Get.
const DefaultRetention = time.Hour

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("batch pool closed")

// Runner runs one batch to completion. *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, b Batch, obs Observer) (BatchResult, error)
}

// Pool runs submitted batches in the background, at most size at a time.
// Jobs inside one batch still run sequentially.
type Pool struct {
	runner Runner
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	wg        sync.WaitGroup
	tickets   map[string]*Ticket
	retention time.Duration
}

// NewPool creates a pool whose batches run under ctx. Cancelling ctx stops
// queued batches and kills running ffmpeg processes.
func NewPool(ctx context.Context, runner Runner, size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Pool{
		runner:  runner,
		sem:     make(chan struct{}, size),
		ctx:     ctx,
		cancel:    cancel,
		tickets:   make(map[string]*Ticket),
		retention: DefaultRetention,
	}
}

// SetRetention changes how long finished batches stay in the pool. Non-positive
// values restore DefaultRetention.
func (p *Pool) SetRetention(d time.Duration) {
	if d <= 0 {
		d = DefaultRetention
	}
	p.mu.Lock()
	p.retention = d
	p.pruneLocked(time.Now())
	p.mu.Unlock()
}

// pruneLocked drops tickets that finished more than retention ago.
func (p *Pool) pruneLocked(now time.Time) {
	cutoff := now.Add(-p.retention)
	for id, t := range p.tickets {
		if t.finishedBefore(cutoff) {
			delete(p.tickets, id)
		}
	}
}

// Submit queues b and returns immediately. obs, when non-nil, receives the
// batch's events alongside the ticket.
func (p *Pool) Submit(b Batch, obs Observer) (*Ticket, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.pruneLocked(time.Now())
	t := newTicket(b.ID)
	p.tickets[b.ID] = t
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(b, t, obs)
	return t, nil
}

func (p *Pool) run(b Batch, t *Ticket, obs Observer) {
	defer p.wg.Done()

	select {
	case p.sem <- struct{}{}:
	case <-p.ctx.Done():
		t.finish(BatchResult{ID: b.ID, Request: b.Request}, p.ctx.Err())
		return
	}
	defer func() { <-p.sem }()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Batch panicked", logger.String("batchId", b.ID), logger.Any("panic", r))
			t.finish(BatchResult{ID: b.ID, Request: b.Request}, errors.New("batch panicked"))
		}
	}()

	res, err := p.runner.Run(p.ctx, b, Observers{t, obs})
	t.finish(res, err)
}

// Get returns the ticket for a submitted batch id.
func (p *Pool) Get(id string) (*Ticket, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked(time.Now())
	t, ok := p.tickets[id]
	return t, ok
}

// Close stops accepting batches and waits for queued and running ones.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
}

// Shutdown cancels running batches and then waits like Close.
func (p *Pool) Shutdown() {
	p.cancel()
	p.Close()
}

// Ticket is the awaitable handle for a submitted batch.
type Ticket struct {
	id   string
	done chan struct{}

	mu         sync.Mutex
	progress   ProgressState
	started    bool
	result     BatchResult
	err        error
	finishedAt time.Time
	subs       map[chan ProgressState]struct{}
}

func newTicket(id string) *Ticket {
	return &Ticket{
		id:   id,
		done: make(chan struct{}),
		subs: make(map[chan ProgressState]struct{}),
	}
}

// ID is the batch id.
func (t *Ticket) ID() string { return t.id }

// Done is closed once the batch has finished.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the batch finishes and returns its result.
func (t *Ticket) Wait() (BatchResult, error) {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// Progress returns the latest progress and whether the batch has started.
func (t *Ticket) Progress() (ProgressState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress, t.started
}

// Err returns the batch error once finished, nil before.
func (t *Ticket) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Ticket) finishedBefore(cutoff time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.finishedAt.IsZero() && t.finishedAt.Before(cutoff)
}

// Subscribe returns a channel receiving every progress update. The channel
// is closed when the batch finishes or cancel is called. Slow readers miss
// intermediate updates, never the close.
func (t *Ticket) Subscribe() (<-chan ProgressState, func()) {
	ch := make(chan ProgressState, 16)
	t.mu.Lock()
	select {
	case <-t.done:
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			if _, ok := t.subs[ch]; ok {
				delete(t.subs, ch)
				close(ch)
			}
			t.mu.Unlock()
		})
	}
}

func (t *Ticket) publish(p ProgressState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress = p
	t.started = true
	for ch := range t.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

func (t *Ticket) finish(res BatchResult, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return
	default:
	}
	t.result, t.err = res, err
	t.finishedAt = time.Now()
	if res.Progress.Total > 0 || t.started {
		t.progress = res.Progress
	}
	for ch := range t.subs {
		delete(t.subs, ch)
		close(ch)
	}
	close(t.done)
}

// OnBatchStart implements Observer.
func (t *Ticket) OnBatchStart(_ string, total int) {
	t.publish(ProgressState{Total: total})
}

// OnJobDone implements Observer.
func (t *Ticket) OnJobDone(_ string, _ JobResult, progress ProgressState) {
	t.publish(progress)
}

// OnBatchDone implements Observer. The pool finishes the ticket itself once
// Run returns.
func (t *Ticket) OnBatchDone(string, BatchResult, error) {}
