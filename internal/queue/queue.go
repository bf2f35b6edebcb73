package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"shrink/internal/logging"
	"shrink/internal/optimizer"
	"shrink/internal/settings"
	"shrink/pkg/imgutil"
)

// Backend performs the blocking file operations the queue drives.
type Backend interface {
	Optimize(ctx context.Context, path string, quality int, format imgutil.Format) (optimizer.Result, error)
	Convert(ctx context.Context, source, target string, quality int) (optimizer.Result, error)
	Restore(ctx context.Context, hash, path string) (int64, error)
	ListFiles(ctx context.Context, folders []string, exts []string) ([]string, error)
}

// Snapshot is an immutable view of the queue.
type Snapshot struct {
	Entries []Entry
	// Processing is true while a run is active.
	Processing bool
	RunID      string
}

// Stats aggregates the snapshot entries.
func (s Snapshot) Stats() Stats {
	return computeStats(s.Entries)
}

// Queue coordinates entries through the backend one at a time. A single
// goroutine owns all entry state; exported methods talk to it over channels.
type Queue struct {
	backend Backend
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	cmds    chan command
	results chan outcome
	updates chan Snapshot
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	last      atomic.Pointer[Snapshot]
}

type command struct {
	fn   func(*state)
	done chan struct{}
}

// state is owned by the loop goroutine.
type state struct {
	entries []Entry
	index   map[string]int

	processing bool
	inflight   bool
	// current is the path of the in-flight call.
	current string
	// epoch advances on every reset; results from older epochs are dropped.
	epoch     uint64
	qualities settings.Qualities

	runID      string
	runStarted time.Time
	runLogger  *slog.Logger
	waiters    []chan struct{}
}

// New starts the work loop. Close releases it.
func New(backend Backend, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		backend: backend,
		logger:  logger.With(slog.String("component", "queue")),
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan command),
		// one call in flight at most, so the sender never blocks
		results: make(chan outcome, 1),
		updates: make(chan Snapshot, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	q.last.Store(&Snapshot{})
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer close(q.done)
	defer close(q.updates)

	st := &state{index: make(map[string]int)}
	for {
		select {
		case <-q.closing:
			return
		case cmd := <-q.cmds:
			cmd.fn(st)
			q.step(st)
			q.publish(st)
			close(cmd.done)
		case out := <-q.results:
			q.apply(st, out)
			q.step(st)
			q.publish(st)
		}
	}
}

// do runs fn on the loop and returns once its effects are published.
func (q *Queue) do(fn func(*state)) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case q.cmds <- cmd:
	case <-q.done:
		return ErrClosed
	}
	<-cmd.done
	return nil
}

func (q *Queue) publish(st *state) {
	snap := &Snapshot{
		Entries:    append([]Entry(nil), st.entries...),
		Processing: st.processing,
		RunID:      st.runID,
	}
	q.last.Store(snap)

	// latest wins
	select {
	case <-q.updates:
	default:
	}
	select {
	case q.updates <- *snap:
	default:
	}
}

// Snapshot returns the most recently published state.
func (q *Queue) Snapshot() Snapshot {
	return *q.last.Load()
}

// Processing reports whether a run is active.
func (q *Queue) Processing() bool {
	return q.Snapshot().Processing
}

// Stats aggregates the current entries.
func (q *Queue) Stats() Stats {
	return q.Snapshot().Stats()
}

// Updates delivers the latest snapshot after every change. Intermediate
// snapshots are dropped when the reader falls behind. The channel is closed
// by Close.
func (q *Queue) Updates() <-chan Snapshot {
	return q.updates
}

// Wait blocks until no run is active.
func (q *Queue) Wait(ctx context.Context) error {
	ch := make(chan struct{})
	err := q.do(func(st *state) {
		if !st.processing {
			close(ch)
			return
		}
		st.waiters = append(st.waiters, ch)
	})
	if err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	}
}

// Close stops the loop and cancels any outstanding backend call.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.cancel()
		close(q.closing)
	})
	<-q.done
}

func (st *state) find(path string) int {
	idx, ok := st.index[path]
	if !ok {
		return -1
	}
	return idx
}

func (st *state) append(e Entry) {
	st.index[e.Path] = len(st.entries)
	st.entries = append(st.entries, e)
}
