package queue

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"shrink/internal/settings"
	"shrink/pkg/imgutil"
)

type candidate struct {
	path        string
	unsupported bool
}

// Add queues paths. A path without an extension is treated as a folder and
// expanded through the backend; files outside the decodable set are queued
// as NotSupported. Paths already in the queue are dropped, and every new
// path gets one conversion entry per fanout target of its format. When the
// folder listing fails the queue is left unchanged.
func (q *Queue) Add(ctx context.Context, fanout settings.Fanout, paths ...string) error {
	var (
		candidates []candidate
		folders    []string
	)
	for _, path := range paths {
		if path == "" {
			continue
		}
		ext := filepath.Ext(path)
		switch {
		case ext == "":
			folders = append(folders, path)
		case imgutil.IsDecodableExtension(ext[1:]):
			candidates = append(candidates, candidate{path: path})
		default:
			candidates = append(candidates, candidate{path: path, unsupported: true})
		}
	}

	if len(folders) > 0 {
		files, err := q.backend.ListFiles(ctx, folders, imgutil.DecodableExtensions())
		if err != nil {
			return fmt.Errorf("list folders: %w", err)
		}
		for _, file := range files {
			candidates = append(candidates, candidate{path: file})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	var added int
	err := q.do(func(st *state) {
		added = st.merge(fanout, candidates)
	})
	if err != nil {
		return err
	}
	q.logger.Debug("paths queued",
		slog.Int("requested", len(paths)),
		slog.Int("folders", len(folders)),
		slog.Int("added", added),
	)
	return nil
}

// merge appends the candidates not yet known and returns how many entries
// were created.
func (st *state) merge(fanout settings.Fanout, candidates []candidate) int {
	before := len(st.entries)
	for _, c := range candidates {
		if st.find(c.path) >= 0 {
			continue
		}
		for _, target := range fanout.Targets(imgutil.FormatFromPath(c.path)) {
			targetPath := imgutil.ReplaceExt(c.path, target)
			if targetPath == c.path || st.find(targetPath) >= 0 {
				continue
			}
			st.append(Entry{Status: StatusPending, Path: targetPath, Original: c.path})
		}
		status := StatusPending
		if c.unsupported {
			status = StatusNotSupported
		}
		st.append(Entry{Status: status, Path: c.path})
	}
	return len(st.entries) - before
}
