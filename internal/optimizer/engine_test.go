package optimizer

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/zeebo/blake3"

	"shrink/internal/backup"
	"shrink/pkg/imgutil"
)

func newTestEngine(t *testing.T) (*Engine, *backup.Store) {
	t.Helper()

	store, err := backup.Open(filepath.Join(t.TempDir(), "backups"))
	if err != nil {
		t.Fatalf("open backups: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, Options{StripMetadata: true}, nil), store
}

func categoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

func TestStripPNGRemovesMetadata(t *testing.T) {
	data := buildPNGWithMetadata(t, gradient(4, 4))

	before, err := countPNGMetadata(data)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if before < 3 {
		t.Fatalf("metadata before strip = %d, want >= 3", before)
	}

	stripped, removed, err := stripPNG(data, false)
	if err != nil {
		t.Fatalf("strip: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}
	after, err := countPNGMetadata(stripped)
	if err != nil {
		t.Fatalf("count after: %v", err)
	}
	if after != 0 {
		t.Fatalf("metadata after strip = %d", after)
	}
	if _, err := png.Decode(bytes.NewReader(stripped)); err != nil {
		t.Fatalf("stripped png no longer decodes: %v", err)
	}
}

func TestStripJPEGRemovesExif(t *testing.T) {
	data := buildJPEGWithExif()

	tags, err := countJPEGMetadata(data)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if tags < 1 {
		t.Fatalf("expected exif tags, got %d", tags)
	}

	stripped, removed, err := stripJPEG(data, false)
	if err != nil {
		t.Fatalf("strip: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if !bytes.Equal(stripped, []byte{0xff, 0xd8, 0xff, 0xd9}) {
		t.Fatalf("unexpected stripped bytes: % x", stripped)
	}
}

func TestStripJPEGKeepsImageData(t *testing.T) {
	data := encodeJPEG(t, gradient(8, 8), 90)

	stripped, removed, err := stripJPEG(data, false)
	if err != nil {
		t.Fatalf("strip: %v", err)
	}
	if removed != 0 || !bytes.Equal(stripped, data) {
		t.Fatalf("clean jpeg modified: removed=%d", removed)
	}
}

func TestOptimizePNGBacksUpAndRestores(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "a.png")
	original := buildPNGWithMetadata(t, gradient(16, 16))
	writeFile(t, path, original)

	res, err := engine.Optimize(ctx, path, 90, imgutil.FormatPNG)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if res.OriginalSize != int64(len(original)) || res.Size >= res.OriginalSize {
		t.Fatalf("unexpected sizes: %+v", res)
	}
	sum := blake3.Sum256(original)
	if res.Hash != hex.EncodeToString(sum[:]) {
		t.Fatalf("hash = %q, want blake3 of the original", res.Hash)
	}
	if res.Diff != 0 {
		t.Fatalf("png optimize should be lossless, diff = %f", res.Diff)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != res.Size {
		t.Fatalf("file size %d, result size %d", info.Size(), res.Size)
	}
	rec, err := store.Latest(ctx, path)
	if err != nil || rec.Hash != res.Hash {
		t.Fatalf("ledger record = %+v, %v", rec, err)
	}

	size, err := engine.Restore(ctx, res.Hash, path)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if size != int64(len(original)) {
		t.Fatalf("restored size = %d, want %d", size, len(original))
	}
	restored, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(restored, original) {
		t.Fatal("restored content differs from original")
	}
}

func TestOptimizeNotModified(t *testing.T) {
	engine, _ := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "tight.png")
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	original := encodePNG(t, img, png.BestCompression)
	writeFile(t, path, original)

	res, err := engine.Optimize(context.Background(), path, 90, imgutil.FormatPNG)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if res.Size != res.OriginalSize || res.Hash != "" {
		t.Fatalf("expected untouched result, got %+v", res)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, original) {
		t.Fatal("file rewritten although nothing was saved")
	}
}

func TestOptimizeJPEG(t *testing.T) {
	engine, _ := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "photo.jpg")
	original := encodeJPEG(t, gradient(32, 32), 100)
	writeFile(t, path, original)

	res, err := engine.Optimize(context.Background(), path, 50, imgutil.FormatJPEG)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if res.Size >= res.OriginalSize {
		t.Fatalf("jpeg not smaller: %+v", res)
	}
	if res.Passes < 1 || res.Hash == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Diff <= 0 || res.Diff > 0.5 {
		t.Fatalf("diff = %f, want (0, 0.5]", res.Diff)
	}
	if res.Width != 32 || res.Height != 32 {
		t.Fatalf("dimensions = %dx%d", res.Width, res.Height)
	}
}

func TestOptimizeRejectsMismatchedContent(t *testing.T) {
	engine, _ := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "fake.jpg")
	writeFile(t, path, encodePNG(t, gradient(2, 2), png.DefaultCompression))

	_, err := engine.Optimize(context.Background(), path, 80, imgutil.FormatJPEG)
	if categoryOf(err) != CategoryFormat {
		t.Fatalf("err = %v, want format category", err)
	}
}

func TestOptimizeMissingFile(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Optimize(context.Background(), filepath.Join(t.TempDir(), "gone.png"), 80, imgutil.FormatPNG)
	if categoryOf(err) != CategoryIO {
		t.Fatalf("err = %v, want io category", err)
	}
}

func TestConvertPNGToJPEG(t *testing.T) {
	engine, _ := newTestEngine(t)
	dir := t.TempDir()
	source := filepath.Join(dir, "a.png")
	target := filepath.Join(dir, "a.jpeg")
	original := encodePNG(t, gradient(16, 16), png.DefaultCompression)
	writeFile(t, source, original)

	res, err := engine.Convert(context.Background(), source, target, 80)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if res.OriginalSize != int64(len(original)) || res.Hash != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	format, err := imgutil.SniffFile(target)
	if err != nil || format != imgutil.FormatJPEG {
		t.Fatalf("target format = %s, %v", format, err)
	}
	source2, err := os.ReadFile(source)
	if err != nil || !bytes.Equal(source2, original) {
		t.Fatal("source must not change on convert")
	}
}

func TestConvertKeepsSmallerTarget(t *testing.T) {
	engine, _ := newTestEngine(t)
	dir := t.TempDir()
	source := filepath.Join(dir, "a.png")
	target := filepath.Join(dir, "a.jpg")
	writeFile(t, source, encodePNG(t, gradient(16, 16), png.DefaultCompression))
	writeFile(t, target, []byte{0x01})

	res, err := engine.Convert(context.Background(), source, target, 80)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if res.Size != 1 || res.OriginalSize != 1 {
		t.Fatalf("expected existing target kept, got %+v", res)
	}
}

func TestConvertPNGToModernFormats(t *testing.T) {
	for _, tc := range []struct {
		name   string
		format imgutil.Format
	}{
		{name: "a.webp", format: imgutil.FormatWebP},
		{name: "a.avif", format: imgutil.FormatAVIF},
	} {
		t.Run(tc.format.String(), func(t *testing.T) {
			engine, _ := newTestEngine(t)
			dir := t.TempDir()
			source := filepath.Join(dir, "a.png")
			target := filepath.Join(dir, tc.name)
			writeFile(t, source, encodePNG(t, gradient(32, 32), png.NoCompression))

			res, err := engine.Convert(context.Background(), source, target, 70)
			if err != nil {
				t.Fatalf("convert: %v", err)
			}
			format, err := imgutil.SniffFile(target)
			if err != nil || format != tc.format {
				t.Fatalf("target format = %s, %v", format, err)
			}
			info, err := os.Stat(target)
			if err != nil || info.Size() != res.Size {
				t.Fatalf("target size = %v, result %+v", info, res)
			}
			if res.Width != 32 || res.Height != 32 || res.Diff < 0 || res.Diff > 0.5 {
				t.Fatalf("unexpected result: %+v", res)
			}
		})
	}
}

func TestConvertWithoutEncoder(t *testing.T) {
	engine, _ := newTestEngine(t)
	dir := t.TempDir()
	source := filepath.Join(dir, "a.png")
	writeFile(t, source, encodePNG(t, gradient(2, 2), png.DefaultCompression))

	_, err := engine.Convert(context.Background(), source, filepath.Join(dir, "a.gif"), 80)
	if categoryOf(err) != CategoryFormat {
		t.Fatalf("err = %v, want format category", err)
	}
}

func TestRestoreUnknownHash(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Restore(context.Background(), "deadbeefdeadbeefdeadbeef", filepath.Join(t.TempDir(), "a.png"))
	if categoryOf(err) != CategoryBackup {
		t.Fatalf("err = %v, want backup category", err)
	}
	if !errors.Is(err, backup.ErrNotFound) {
		t.Fatalf("err = %v, want wrapped ErrNotFound", err)
	}
}

func TestListFiles(t *testing.T) {
	engine, _ := newTestEngine(t)
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"a.png", "sub/b.JPG", "c.txt", "sub/d.gif"} {
		writeFile(t, filepath.Join(root, name), []byte("x"))
	}

	files, err := engine.ListFiles(context.Background(), []string{root, filepath.Join(root, "sub")}, imgutil.DecodableExtensions())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{filepath.Join(root, "a.png"), filepath.Join(root, "sub", "b.JPG")}
	if len(files) != len(want) {
		t.Fatalf("files = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("files = %v, want %v", files, want)
		}
	}

	if _, err := engine.ListFiles(context.Background(), []string{filepath.Join(root, "*")}, []string{"png"}); categoryOf(err) != CategoryPattern {
		t.Fatalf("glob err = %v, want pattern category", err)
	}
	if _, err := engine.ListFiles(context.Background(), []string{filepath.Join(root, "missing")}, []string{"png"}); categoryOf(err) != CategoryIO {
		t.Fatalf("missing err = %v, want io category", err)
	}
}

func TestPerceptualDiff(t *testing.T) {
	a := gradient(8, 8)
	same, err := perceptualDiff(a, gradient(8, 8))
	if err != nil || same != 0 {
		t.Fatalf("identical diff = %f, %v", same, err)
	}

	b := image.NewRGBA(a.Bounds())
	diff, err := perceptualDiff(a, b)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if diff <= 0 || diff > 1 {
		t.Fatalf("diff = %f, want (0, 1]", diff)
	}

	if _, err := perceptualDiff(a, gradient(4, 4)); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestDescribe(t *testing.T) {
	category, message := Describe(errorf(CategoryIO, "disk full"))
	if category != CategoryIO || message != "disk full" {
		t.Fatalf("categorized = %s %q", category, message)
	}

	category, message = Describe(errors.New(`{"category": "optim", "message": "decode failed"}`))
	if category != CategoryOptim || message != "decode failed" {
		t.Fatalf("payload = %s %q", category, message)
	}

	category, message = Describe(errors.New("boom"))
	if category != CategoryUnknown || message != "boom" {
		t.Fatalf("plain = %s %q", category, message)
	}

	data, err := (&Error{Category: CategoryFormat, Err: errors.New("bad")}).MarshalJSON()
	if err != nil || string(data) != `{"category":"format","message":"bad"}` {
		t.Fatalf("json = %s, %v", data, err)
	}
}
