package optimizer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/zeebo/blake3"

	"shrink/internal/logging"
	"shrink/pkg/imgutil"
)

// Result describes the outcome of one optimize or convert call.
type Result struct {
	// Hash keys the backup of the original; empty when nothing was written.
	Hash         string
	Size         int64
	OriginalSize int64
	Diff         float64
	Width        int
	Height       int
	Passes       int
	// MetadataTags counts the metadata tags removed from the file.
	MetadataTags int
}

// Backups stores originals so optimized files can be restored.
type Backups interface {
	Put(ctx context.Context, hash, path string, data []byte) error
	Reader(ctx context.Context, hash string) (io.ReadCloser, error)
}

// Options tunes the engine.
type Options struct {
	StripMetadata bool
	PreserveICC   bool
	// MaxPasses bounds the re-encode passes per optimize call.
	MaxPasses int
	// MaxDiff rejects re-encodes drifting further than this from the original.
	MaxDiff float64
}

const (
	defaultMaxPasses = 3
	defaultMaxDiff   = 0.5
)

// Engine optimizes, converts and restores image files on local disk.
type Engine struct {
	backups Backups
	opts    Options
	logger  *slog.Logger
}

// New constructs an Engine.
func New(backups Backups, opts Options, logger *slog.Logger) *Engine {
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = defaultMaxPasses
	}
	if opts.MaxDiff <= 0 {
		opts.MaxDiff = defaultMaxDiff
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{backups: backups, opts: opts, logger: logger}
}

// Optimize shrinks the file at path in place. When nothing smaller can be
// produced the file is left untouched and Size equals OriginalSize.
func (e *Engine) Optimize(ctx context.Context, path string, quality int, format imgutil.Format) (Result, error) {
	if !format.Decodable() {
		return Result{}, errorf(CategoryFormat, "cannot optimize %s images", format)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, newError(CategoryIO, err)
	}
	original, err := os.ReadFile(path)
	if err != nil {
		return Result{}, newError(CategoryIO, err)
	}
	if sniffed := imgutil.Sniff(original); sniffed != format {
		return Result{}, errorf(CategoryFormat, "content is %s, expected %s", sniffed, format)
	}

	src, err := decodeImage(original)
	if err != nil {
		return Result{}, newError(CategoryOptim, err)
	}
	bounds := src.Bounds()
	res := Result{
		Size:         int64(len(original)),
		OriginalSize: int64(len(original)),
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
	}

	best := original
	if e.opts.StripMetadata {
		tags, err := countMetadata(original, format)
		if err != nil {
			e.logger.Debug("metadata count failed", slog.String("path", path), slog.Any("error", err))
		}
		stripped, chunks, err := stripMetadata(original, format, e.opts.PreserveICC)
		if err != nil {
			return Result{}, newError(CategoryOptim, err)
		}
		if chunks > 0 && len(stripped) < len(best) {
			best = stripped
			res.MetadataTags = max(tags, chunks)
		}
	}

	reference := src
	for pass := 0; pass < e.opts.MaxPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		candidate, err := encodeImage(src, format, quality)
		if err != nil {
			return Result{}, newError(CategoryOptim, err)
		}
		if len(candidate) >= len(best) {
			break
		}
		decoded, err := decodeImage(candidate)
		if err != nil {
			return Result{}, newError(CategoryOptim, err)
		}
		diff, err := perceptualDiff(reference, decoded)
		if err != nil {
			return Result{}, newError(CategoryOptim, err)
		}
		if diff > e.opts.MaxDiff {
			break
		}
		best = candidate
		res.Diff = diff
		res.Passes++
		if format == imgutil.FormatPNG {
			// png re-encodes are deterministic
			break
		}
		src = decoded
	}

	if len(best) >= len(original) {
		return Result{
			Size:         res.OriginalSize,
			OriginalSize: res.OriginalSize,
			Width:        res.Width,
			Height:       res.Height,
		}, nil
	}

	res.Hash = e.backup(ctx, path, original)
	if err := writeFileAtomic(path, best, info.Mode().Perm()); err != nil {
		return Result{}, newError(CategoryIO, err)
	}
	res.Size = int64(len(best))

	e.logger.Debug("image optimized",
		slog.String("path", path),
		slog.Int64("original_size", res.OriginalSize),
		slog.Int64("size", res.Size),
		slog.Int("passes", res.Passes),
		slog.Int("metadata_tags", res.MetadataTags),
		slog.Float64("diff", res.Diff),
	)
	return res, nil
}

// backup stores the original bytes and returns their hash. A failed backup is
// logged and yields an empty hash: the file is still optimized but cannot be
// restored.
func (e *Engine) backup(ctx context.Context, path string, original []byte) string {
	if e.backups == nil {
		return ""
	}
	sum := blake3.Sum256(original)
	hash := hex.EncodeToString(sum[:])
	if err := e.backups.Put(ctx, hash, path, original); err != nil {
		e.logger.Warn("backup failed", slog.String("path", path), slog.Any("error", err))
		return ""
	}
	return hash
}

// Convert writes source re-encoded as the format of target. An existing
// target that is already no larger than the conversion is kept.
func (e *Engine) Convert(ctx context.Context, source, target string, quality int) (Result, error) {
	format := imgutil.FormatFromPath(target)
	if !canEncode(format) {
		return Result{}, errorf(CategoryFormat, "no encoder for %s", format)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return Result{}, newError(CategoryIO, err)
	}
	src, err := decodeImage(data)
	if err != nil {
		return Result{}, newError(CategoryOptim, err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	encoded, err := encodeImage(src, format, quality)
	if err != nil {
		return Result{}, newError(CategoryOptim, err)
	}
	bounds := src.Bounds()

	if existing, err := os.Stat(target); err == nil {
		if int64(len(encoded)) >= existing.Size() {
			return Result{
				Size:         existing.Size(),
				OriginalSize: existing.Size(),
				Width:        bounds.Dx(),
				Height:       bounds.Dy(),
			}, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Result{}, newError(CategoryIO, err)
	}

	decoded, err := decodeImage(encoded)
	if err != nil {
		return Result{}, newError(CategoryOptim, err)
	}
	diff, err := perceptualDiff(src, decoded)
	if err != nil {
		return Result{}, newError(CategoryOptim, err)
	}
	if err := writeFileAtomic(target, encoded, 0o644); err != nil {
		return Result{}, newError(CategoryIO, err)
	}

	return Result{
		Size:         int64(len(encoded)),
		OriginalSize: int64(len(data)),
		Diff:         diff,
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		Passes:       1,
	}, nil
}

// Restore copies the backup stored under hash over path and returns the
// restored size.
func (e *Engine) Restore(ctx context.Context, hash, path string) (int64, error) {
	if e.backups == nil {
		return 0, errorf(CategoryBackup, "no backup store configured")
	}
	r, err := e.backups.Reader(ctx, hash)
	if err != nil {
		return 0, newError(CategoryBackup, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return 0, newError(CategoryIO, err)
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := writeFileAtomic(path, data, mode); err != nil {
		return 0, newError(CategoryIO, fmt.Errorf("restore %s: %w", path, err))
	}
	e.logger.Info("file restored", slog.String("path", path), slog.String("hash", hash), slog.Int("size", len(data)))
	return int64(len(data)), nil
}
