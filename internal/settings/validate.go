package settings

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"shrink/pkg/imgutil"
)

// Validate converts the loose on-disk shape into Settings.
func (f File) Validate() (Settings, error) {
	s := Settings{
		OptimizeDisabled: f.OptimizeDisabled,
		Optimize:         f.Optimize,
		Logging:          f.Logging,
	}

	qualities, err := parseQualities(f.Quality)
	if err != nil {
		return Settings{}, err
	}
	s.Qualities = qualities

	fanout, err := ParseFanout(f.Convert)
	if err != nil {
		return Settings{}, err
	}
	s.Fanout = fanout

	if s.Optimize.MaxPasses < 0 {
		return Settings{}, errors.New("optimize.max_passes must not be negative")
	}
	if s.Optimize.MaxDiff < 0 || s.Optimize.MaxDiff > 1 {
		return Settings{}, errors.New("optimize.max_diff must be between 0 and 1")
	}

	if strings.TrimSpace(f.Backup.Dir) == "" {
		return Settings{}, errors.New("backup.dir must be set")
	}
	dir, err := expandPath(f.Backup.Dir)
	if err != nil {
		return Settings{}, err
	}
	s.BackupDir = dir

	retention := strings.TrimSpace(f.Backup.Retention)
	if retention == "" {
		retention = "24h"
	}
	s.BackupRetention, err = time.ParseDuration(retention)
	if err != nil {
		return Settings{}, fmt.Errorf("backup.retention: %w", err)
	}
	if s.BackupRetention <= 0 {
		return Settings{}, errors.New("backup.retention must be positive")
	}

	switch strings.ToLower(strings.TrimSpace(s.Logging.Format)) {
	case "", "text", "json":
	default:
		return Settings{}, fmt.Errorf("logging.format: unsupported value %q", s.Logging.Format)
	}
	if file := strings.TrimSpace(s.Logging.File); file != "" {
		expanded, err := expandPath(file)
		if err != nil {
			return Settings{}, err
		}
		s.Logging.File = expanded
	}

	return s, nil
}

func parseQualities(raw map[string]int) (Qualities, error) {
	var q Qualities
	for name, value := range raw {
		format, err := imgutil.ParseFormat(name)
		if err != nil {
			return q, fmt.Errorf("quality.%s: %w", name, err)
		}
		if value < 1 || value > 100 {
			return q, fmt.Errorf("quality.%s must be between 1 and 100, got %d", name, value)
		}
		q[format] = value
	}
	return q, nil
}

// ParseFanout validates a source → targets mapping keyed by format names.
// Self-targets and duplicates are dropped.
func ParseFanout(raw map[string][]string) (Fanout, error) {
	fanout := Fanout{}
	sources := make([]string, 0, len(raw))
	for name := range raw {
		sources = append(sources, name)
	}
	sort.Strings(sources)

	for _, name := range sources {
		source, err := imgutil.ParseFormat(name)
		if err != nil {
			return nil, fmt.Errorf("convert.%s: %w", name, err)
		}
		for _, targetName := range raw[name] {
			target, err := imgutil.ParseFormat(targetName)
			if err != nil {
				return nil, fmt.Errorf("convert.%s: %w", name, err)
			}
			fanout.add(source, target)
		}
	}
	return fanout, nil
}

// ParseQualityPairs parses "format=quality" pairs such as "jpeg=75".
func ParseQualityPairs(pairs []string) (map[imgutil.Format]int, error) {
	out := make(map[imgutil.Format]int, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid quality %q (want format=quality)", pair)
		}
		format, err := imgutil.ParseFormat(name)
		if err != nil {
			return nil, err
		}
		quality, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || quality < 1 || quality > 100 {
			return nil, fmt.Errorf("quality for %s must be between 1 and 100, got %q", format, value)
		}
		out[format] = quality
	}
	return out, nil
}

// ParseConvertPairs parses "src:dst" pairs such as "png:webp" into the loose
// convert map used by File.
func ParseConvertPairs(pairs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, pair := range pairs {
		src, dst, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(src) == "" || strings.TrimSpace(dst) == "" {
			return nil, fmt.Errorf("invalid convert pair %q (want src:dst)", pair)
		}
		src = strings.ToLower(strings.TrimSpace(src))
		out[src] = append(out[src], strings.ToLower(strings.TrimSpace(dst)))
	}
	return out, nil
}
