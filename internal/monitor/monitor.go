package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wolethescientist/email-engine/internal/mailbox"
	"github.com/wolethescientist/email-engine/internal/mailerr"
)

// Options tunes the monitor.
type Options struct {
	// PollInterval is the default tick interval for Polling mode.
	PollInterval time.Duration
	// IdleWaitCap bounds a single wait in Watching mode. Many servers
	// drop idle connections at the 30-minute mark; stay under it.
	IdleWaitCap time.Duration
	// Window bounds the recent-search fallback.
	Window time.Duration
	// BackoffInitial and BackoffMax bound the exponential backoff applied
	// between failing cycles.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// MaxWorkers bounds concurrently open connections across all loops,
	// respecting provider connection-count quotas.
	MaxWorkers int
	// Record, when set, receives one record per completed cycle.
	Record func(context.Context, CycleRecord)
}

// CycleRecord summarizes one completed cycle for the optional recorder.
type CycleRecord struct {
	User       string
	Folder     mailbox.Folder
	Generation uint64
	Steps      []string
	NewMail    int
	Err        string
	At         time.Time
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.IdleWaitCap <= 0 {
		o.IdleWaitCap = 29 * time.Minute
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 2 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 5 * time.Minute
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 3
	}
	return o
}

// Monitor schedules Polling and Watching loops over a Syncer. Loops share
// nothing but the worker-pool semaphore; each owns its watermark, backoff
// and sessions exclusively, so no cross-loop locking exists.
type Monitor struct {
	syncer  Syncer
	opts    Options
	workers chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	handles map[string]*Handle
}

// New creates a monitor over the given syncer.
func New(syncer Syncer, opts Options) *Monitor {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		syncer:  syncer,
		opts:    opts,
		workers: make(chan struct{}, opts.MaxWorkers),
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[string]*Handle),
	}
}

func watchKey(user string, folder mailbox.Folder) string {
	return user + "\x00" + string(folder)
}

// StartWatch starts a watch loop for a (user, folder) pair. A second watch
// for the same pair while one is active is rejected. A push-mode request
// against a provider without the capability falls back to Polling and
// signals a capability notice on the stream; that is not a failure.
func (m *Monitor) StartWatch(user string, folder mailbox.Folder, mode Mode) (*Handle, error) {
	key := watchKey(user, folder)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, active := m.handles[key]; active {
		return nil, fmt.Errorf("watch already active for %s/%s", user, folder)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	h := newHandle(user, folder, cancel)
	m.handles[key] = h

	go m.run(ctx, h, mode)

	return h, nil
}

// StopWatch cancels a watch and blocks until its loop has exited and
// released every resource it held. Safe to call more than once.
func (m *Monitor) StopWatch(h *Handle) {
	h.cancel()
	<-h.done

	m.mu.Lock()
	key := watchKey(h.User, h.Folder)
	if m.handles[key] == h {
		delete(m.handles, key)
	}
	m.mu.Unlock()
}

// Close stops every active watch.
func (m *Monitor) Close() {
	m.cancel()

	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		m.StopWatch(h)
	}
}

// Poll runs one synchronous cycle against a folder: the one-shot variant
// of a polling tick, sharing the same worker pool.
func (m *Monitor) Poll(ctx context.Context, folder mailbox.Folder) ([]mailbox.Ref, error) {
	if err := m.acquireWorker(ctx); err != nil {
		return nil, err
	}
	defer m.releaseWorker()

	result, err := m.syncer.Cycle(ctx, folder, mailbox.SearchOptions{Window: m.opts.Window})
	if err != nil {
		return nil, err
	}
	return result.Refs, nil
}

func (m *Monitor) acquireWorker(ctx context.Context) error {
	select {
	case m.workers <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) releaseWorker() {
	<-m.workers
}

func (m *Monitor) record(ctx context.Context, rec CycleRecord) {
	if m.opts.Record != nil {
		m.opts.Record(ctx, rec)
	}
}

// classify extracts the taxonomy kind string for an error.
func classify(err error) string {
	if kind, ok := mailerr.KindOf(err); ok {
		return kind.String()
	}
	return "unknown"
}
