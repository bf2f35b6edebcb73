package queue

import (
	"context"
	"fmt"
	"log/slog"
)

// Restore puts the backup stored under hash back at path and marks the entry
// NotModified with the restored size. On any error the entry is unchanged.
func (q *Queue) Restore(ctx context.Context, hash, path string) error {
	var checkErr error
	if err := q.do(func(st *state) {
		checkErr = st.restorable(path)
	}); err != nil {
		return err
	}
	if checkErr != nil {
		return checkErr
	}

	size, err := q.backend.Restore(ctx, hash, path)
	if err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}

	if err := q.do(func(st *state) {
		if checkErr = st.restorable(path); checkErr != nil {
			return
		}
		entry := &st.entries[st.find(path)]
		entry.clear()
		entry.Status = StatusNotModified
		entry.Size = ptr(size)
	}); err != nil {
		return err
	}
	if checkErr != nil {
		return checkErr
	}
	q.logger.Info("entry restored", slog.String("path", path), slog.Int64("size", size))
	return nil
}

func (st *state) restorable(path string) error {
	idx := st.find(path)
	if idx < 0 {
		return fmt.Errorf("%s: %w", path, ErrEntryNotFound)
	}
	if st.entries[idx].Status == StatusProcessing || (st.inflight && st.current == path) {
		return fmt.Errorf("%s: %w", path, ErrEntryBusy)
	}
	return nil
}

// Reset returns every entry to Pending with its derived fields cleared, so
// the batch can run again. NotSupported entries stay NotSupported. A call in
// flight at reset time has its result discarded.
func (q *Queue) Reset() error {
	return q.do(func(st *state) {
		st.epoch++
		for i := range st.entries {
			entry := &st.entries[i]
			entry.clear()
			if entry.Status != StatusNotSupported {
				entry.Status = StatusPending
			}
		}
	})
}

// Clean empties the queue. It refuses, returning false, while a run is
// active.
func (q *Queue) Clean() bool {
	cleaned := false
	_ = q.do(func(st *state) {
		if st.processing || st.inflight {
			return
		}
		st.entries = nil
		st.index = make(map[string]int)
		cleaned = true
	})
	return cleaned
}
