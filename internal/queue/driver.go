package queue

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"shrink/internal/optimizer"
	"shrink/internal/settings"
	"shrink/pkg/imgutil"
)

// job is one dispatched backend call.
type job struct {
	index    int
	path     string
	original string
	format   imgutil.Format
	quality  int
	epoch    uint64
}

type outcome struct {
	job    job
	result optimizer.Result
	err    error
}

// Start begins a run over the pending entries. It is a no-op when disabled
// is set or a run is already active. Entries added during the run are
// picked up before it ends.
func (q *Queue) Start(qualities settings.Qualities, disabled bool) error {
	if disabled {
		q.logger.Info("optimization disabled; entries left pending")
		return nil
	}
	return q.do(func(st *state) {
		if st.processing {
			return
		}
		st.processing = true
		st.qualities = qualities
		st.runID = uuid.NewString()
		st.runStarted = time.Now()
		st.runLogger = q.logger.With(slog.String("run_id", st.runID))
		st.runLogger.Info("run started", slog.Int("entries", len(st.entries)))
	})
}

// step dispatches the first pending entry, or ends the run when none is
// left. It does nothing while a call is in flight.
func (q *Queue) step(st *state) {
	if !st.processing || st.inflight {
		return
	}
	idx := -1
	for i := range st.entries {
		if st.entries[i].Status == StatusPending {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.finish(st)
		return
	}

	entry := &st.entries[idx]
	entry.Status = StatusProcessing
	st.inflight = true
	st.current = entry.Path
	j := job{
		index:    idx,
		path:     entry.Path,
		original: entry.Original,
		format:   entry.Format(),
		quality:  st.qualities.For(entry.Format()),
		epoch:    st.epoch,
	}
	st.runLogger.Debug("entry dispatched",
		slog.String("path", j.path),
		slog.String("original", j.original),
		slog.Int("quality", j.quality),
	)
	go q.run(j)
}

func (q *Queue) run(j job) {
	out := outcome{job: j}
	defer func() {
		if r := recover(); r != nil {
			out.result, out.err = optimizer.Result{}, fmt.Errorf("backend panic: %v", r)
		}
		q.results <- out
	}()

	if j.original != "" {
		out.result, out.err = q.backend.Convert(q.ctx, j.original, j.path, j.quality)
		return
	}
	out.result, out.err = q.backend.Optimize(q.ctx, j.path, j.quality, j.format)
}

// apply writes a finished call back into its entry.
func (q *Queue) apply(st *state, out outcome) {
	st.inflight = false
	st.current = ""
	logger := st.runLogger
	if logger == nil {
		logger = q.logger
	}
	if out.job.epoch != st.epoch {
		logger.Debug("discarding result from before reset", slog.String("path", out.job.path))
		return
	}

	idx := out.job.index
	if idx >= len(st.entries) || st.entries[idx].Path != out.job.path {
		idx = st.find(out.job.path)
	}
	if idx < 0 {
		logger.Warn("result for unknown entry", slog.String("path", out.job.path))
		return
	}

	entry := &st.entries[idx]
	if out.err != nil {
		entry.Status = StatusFail
		entry.Message = failureMessage(out.err)
		logger.Warn("entry failed", slog.String("path", entry.Path), slog.String("message", entry.Message))
		return
	}

	res := out.result
	savings := 0.0
	if res.OriginalSize > 0 {
		savings = 1 - float64(res.Size)/float64(res.OriginalSize)
	}
	entry.Size = ptr(res.Size)
	entry.Savings = ptr(savings)
	entry.Diff = ptr(res.Diff)
	entry.Message = ""
	if savings > 0 {
		entry.Status = StatusSuccess
		entry.Hash = res.Hash
	} else {
		entry.Status = StatusNotModified
		entry.Hash = ""
	}
	logger.Debug("entry finished",
		slog.String("path", entry.Path),
		slog.String("status", string(entry.Status)),
		slog.Int64("size", res.Size),
		slog.Int64("original_size", res.OriginalSize),
		slog.Float64("diff", res.Diff),
	)
}

func (q *Queue) finish(st *state) {
	st.processing = false
	if st.runLogger != nil {
		counts := make(map[Status]int)
		for _, e := range st.entries {
			counts[e.Status]++
		}
		st.runLogger.Info("run finished",
			slog.Duration("elapsed", time.Since(st.runStarted)),
			slog.Int("success", counts[StatusSuccess]),
			slog.Int("not_modified", counts[StatusNotModified]),
			slog.Int("failed", counts[StatusFail]),
		)
	}
	for _, ch := range st.waiters {
		close(ch)
	}
	st.waiters = nil
}
