package settings

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"shrink/pkg/imgutil"
)

//go:embed sample_config.toml
var sampleConfig string

// DefaultQuality applies to any format without a configured quality.
const DefaultQuality = 80

// Qualities is a per-format quality table indexed by imgutil.Format.
type Qualities [imgutil.FormatCount]int

// For returns the configured quality of f, or DefaultQuality when unset.
func (q Qualities) For(f imgutil.Format) int {
	if f <= imgutil.FormatUnknown || f >= imgutil.FormatCount || q[f] <= 0 {
		return DefaultQuality
	}
	return q[f]
}

// Fanout maps a source format to the formats it should be converted into.
type Fanout map[imgutil.Format][]imgutil.Format

// Targets returns the conversion targets configured for f.
func (f Fanout) Targets(format imgutil.Format) []imgutil.Format {
	if f == nil {
		return nil
	}
	return f[format]
}

// Merge returns a fanout holding the targets of both f and other.
func (f Fanout) Merge(other Fanout) Fanout {
	out := Fanout{}
	for _, src := range []Fanout{f, other} {
		for _, source := range imgutil.Formats {
			for _, target := range src[source] {
				out.add(source, target)
			}
		}
	}
	return out
}

// add appends target to the targets of source unless it is the source
// itself or already listed.
func (f Fanout) add(source, target imgutil.Format) {
	if source == target || slices.Contains(f[source], target) {
		return
	}
	f[source] = append(f[source], target)
}

// Optimize tunes the native optimizer.
type Optimize struct {
	StripMetadata bool    `toml:"strip_metadata"`
	PreserveICC   bool    `toml:"preserve_icc"`
	MaxPasses     int     `toml:"max_passes"`
	MaxDiff       float64 `toml:"max_diff"`
}

// Backup locates the restore store.
type Backup struct {
	Dir       string `toml:"dir"`
	Retention string `toml:"retention"`
}

// Logging configures the slog logger.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// File is the on-disk TOML shape. Format keys are loose strings here and
// are validated into Settings by Validate.
type File struct {
	OptimizeDisabled bool                `toml:"optimize_disabled"`
	Quality          map[string]int      `toml:"quality"`
	Convert          map[string][]string `toml:"convert"`
	Optimize         Optimize            `toml:"optimize"`
	Backup           Backup              `toml:"backup"`
	Logging          Logging             `toml:"logging"`
}

// Settings is the validated, read-only view consumed by the rest of shrink.
type Settings struct {
	OptimizeDisabled bool
	Qualities        Qualities
	Fanout           Fanout
	Optimize         Optimize
	BackupDir        string
	BackupRetention  time.Duration
	Logging          Logging
}

// DefaultFile returns the configuration written by `config init`.
func DefaultFile() File {
	cacheDir := defaultCacheDir()
	return File{
		Quality: map[string]int{
			"png":  90,
			"jpeg": 90,
			"webp": 80,
			"avif": 70,
		},
		Convert: map[string][]string{},
		Optimize: Optimize{
			StripMetadata: true,
			MaxPasses:     3,
			MaxDiff:       0.5,
		},
		Backup: Backup{
			Dir:       filepath.Join(cacheDir, "backups"),
			Retention: "24h",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
			File:   filepath.Join(cacheDir, "shrink.log"),
		},
	}
}

// Default returns validated default settings.
func Default() Settings {
	s, err := DefaultFile().Validate()
	if err != nil {
		panic(fmt.Sprintf("default settings invalid: %v", err))
	}
	return s
}

// SampleConfig returns the commented sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/shrink/config.toml")
}

// Load reads, normalizes and validates a configuration file. A missing file
// yields defaults. It returns the resolved path and whether the file existed.
func Load(path string) (Settings, string, bool, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Settings{}, "", false, err
	}

	raw := DefaultFile()
	file, err := os.Open(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s, verr := raw.Validate()
		return s, resolved, false, verr
	case err != nil:
		return Settings{}, "", false, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	defaults := raw
	raw.Quality = nil
	raw.Convert = nil
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&raw); err != nil {
		return Settings{}, "", false, fmt.Errorf("parse config %s: %w", resolved, err)
	}
	raw.Quality = mergeQualities(defaults.Quality, raw.Quality)

	s, err := raw.Validate()
	if err != nil {
		return Settings{}, "", false, fmt.Errorf("config %s: %w", resolved, err)
	}
	return s, resolved, true, nil
}

// Save writes f as TOML, creating parent directories.
func Save(path string, f File) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return err
	}
	if _, err := f.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}

	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(resolved, data, 0o644)
}

// WriteSample writes the sample configuration to path. Existing files are
// only replaced when overwrite is set.
func WriteSample(path string, overwrite bool) (string, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return "", err
	}
	if !overwrite {
		if _, err := os.Stat(resolved); err == nil {
			return "", fmt.Errorf("config already exists at %s (use --force to overwrite)", resolved)
		}
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", err
	}
	return resolved, os.WriteFile(resolved, []byte(sampleConfig), 0o644)
}

// mergeQualities keeps the defaults for formats the file leaves out. "jpg"
// counts as "jpeg".
func mergeQualities(defaults, configured map[string]int) map[string]int {
	merged := make(map[string]int, len(defaults)+len(configured))
	for name, value := range configured {
		merged[name] = value
	}
	for name, value := range defaults {
		if _, ok := merged[name]; ok {
			continue
		}
		if _, ok := merged["jpg"]; ok && name == "jpeg" {
			continue
		}
		merged[name] = value
	}
	return merged
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultConfigPath()
	}
	return expandPath(path)
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "shrink")
	}
	return filepath.Join(dir, "shrink")
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}
