package cmd

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shrink/pkg/imgutil"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	return writeTestConfigRetention(t, dir, "24h")
}

func writeTestConfigRetention(t *testing.T, dir, retention string) string {
	t.Helper()

	path := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(`[backup]
dir = %q
retention = %q

[logging]
level = "debug"
file = %q
`, filepath.Join(dir, "backups"), retention, filepath.Join(dir, "shrink.log"))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// pngWithComment encodes a small gradient and appends a tEXt chunk so that
// stripping metadata always shrinks the file.
func pngWithComment(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 0x80, A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	data := buf.Bytes()

	payload := append([]byte("Comment\x00"), bytes.Repeat([]byte("x"), 256)...)
	chunk := make([]byte, 8, 12+len(payload))
	binary.BigEndian.PutUint32(chunk[:4], uint32(len(payload)))
	copy(chunk[4:8], "tEXt")
	chunk = append(chunk, payload...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(chunk[4:]))

	iend := len(data) - 12
	out := append([]byte{}, data[:iend]...)
	out = append(out, chunk...)
	return append(out, data[iend:]...)
}

func TestConfigInitAndShow(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	target := filepath.Join(dir, "sample.toml")

	out, err := runCLI(t, "config", "init", "--config", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, err := runCLI(t, "config", "init", "--config", target); err == nil {
		t.Fatal("expected config init to refuse overwriting")
	}
	if _, err := runCLI(t, "config", "init", "--config", target, "--force"); err != nil {
		t.Fatalf("config init --force: %v", err)
	}

	cfg := writeTestConfig(t, dir)
	out, err = runCLI(t, "config", "show", "--config", cfg)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "quality.png")
	requireContains(t, out, filepath.Join(dir, "backups"))

	_, err = runCLI(t, "config", "show", "--config", cfg, "--log-level", "loud")
	if err == nil {
		t.Fatal("expected invalid --log-level to fail")
	}
}

func TestOptimizeHistoryRestorePrune(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)

	images := filepath.Join(dir, "images")
	if err := os.MkdirAll(images, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	original := pngWithComment(t)
	source := filepath.Join(images, "a.png")
	if err := os.WriteFile(source, original, 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
	unsupported := filepath.Join(dir, "b.gif")
	if err := os.WriteFile(unsupported, []byte("GIF89a"), 0o644); err != nil {
		t.Fatalf("write gif: %v", err)
	}

	out, err := runCLI(t, "optimize", "--config", cfg, "--plain", "--convert", "png:jpeg", images, unsupported)
	if err != nil {
		t.Fatalf("optimize: %v\n%s", err, out)
	}
	requireContains(t, out, "success")
	requireContains(t, out, "not_supported")
	requireContains(t, out, "Space saved")
	if _, err := os.Stat(filepath.Join(images, "a.jpeg")); err != nil {
		t.Fatalf("conversion target missing: %v", err)
	}
	optimized, err := os.ReadFile(source)
	if err != nil {
		t.Fatalf("read optimized: %v", err)
	}
	if len(optimized) >= len(original) {
		t.Fatalf("optimized size %d, original %d", len(optimized), len(original))
	}

	out, err = runCLI(t, "history", "--config", cfg)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, source)

	out, err = runCLI(t, "restore", "--config", cfg, source)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	requireContains(t, out, "Restored")
	restored, err := os.ReadFile(source)
	if err != nil {
		t.Fatalf("read restored: %v", err)
	}
	if !bytes.Equal(restored, original) {
		t.Fatal("restore did not bring back the original bytes")
	}

	out, err = runCLI(t, "prune", "--config", cfg, "--older-than", "0s")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	requireContains(t, out, "Removed 1 backup(s)")

	out, err = runCLI(t, "history", "--config", cfg)
	if err != nil {
		t.Fatalf("history after prune: %v", err)
	}
	requireContains(t, out, "No backups recorded")
}

func TestOptimizeReportsFailures(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)

	broken := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(broken, []byte("not a png"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := runCLI(t, "optimize", "--config", cfg, "--plain", broken)
	if err == nil || !strings.Contains(err.Error(), "1 of 1 files failed") {
		t.Fatalf("err = %v, want failure count", err)
	}
	requireContains(t, out, "[format]")
}

func TestApplyOverridesRejectsBadQuality(t *testing.T) {
	if _, err := runCLI(t, "optimize", "--config", writeTestConfig(t, t.TempDir()), "--plain", "--quality", "png=200", "x.png"); err == nil {
		t.Fatal("expected invalid quality to fail")
	}
}

func TestOptimizeConvertsToWebP(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)

	source := filepath.Join(dir, "a.png")
	if err := os.WriteFile(source, pngWithComment(t), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}

	out, err := runCLI(t, "optimize", "--config", cfg, "--plain", "--convert", "png:webp", source)
	if err != nil {
		t.Fatalf("optimize: %v\n%s", err, out)
	}
	if strings.Contains(out, " fail ") {
		t.Fatalf("expected no failures, got:\n%s", out)
	}
	format, err := imgutil.SniffFile(filepath.Join(dir, "a.webp"))
	if err != nil || format != imgutil.FormatWebP {
		t.Fatalf("a.webp format = %s, %v", format, err)
	}
}

func TestOptimizePrunesExpiredBackups(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	cfg := writeTestConfigRetention(t, dir, "1ns")

	first := filepath.Join(dir, "first.png")
	second := filepath.Join(dir, "second.png")
	for _, path := range []string{first, second} {
		if err := os.WriteFile(path, pngWithComment(t), 0o644); err != nil {
			t.Fatalf("write png: %v", err)
		}
	}

	if out, err := runCLI(t, "optimize", "--config", cfg, "--plain", first); err != nil {
		t.Fatalf("optimize first: %v\n%s", err, out)
	}
	out, err := runCLI(t, "history", "--config", cfg)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, first)

	if out, err := runCLI(t, "optimize", "--config", cfg, "--plain", second); err != nil {
		t.Fatalf("optimize second: %v\n%s", err, out)
	}
	out, err = runCLI(t, "history", "--config", cfg)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if strings.Contains(out, first) {
		t.Fatalf("expired backup of %s still listed:\n%s", first, out)
	}
	requireContains(t, out, second)
}
