package imgutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies an image format known to shrink.
type Format int

const (
	FormatUnknown Format = iota
	FormatPNG
	FormatJPEG
	FormatWebP
	FormatAVIF

	// FormatCount sizes lookup tables indexed by Format.
	FormatCount
)

// Formats lists every known format in a stable order.
var Formats = []Format{FormatPNG, FormatJPEG, FormatWebP, FormatAVIF}

func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	case FormatWebP:
		return "webp"
	case FormatAVIF:
		return "avif"
	default:
		return "unknown"
	}
}

// Ext returns the file extension (without dot) written for the format.
func (f Format) Ext() string {
	return f.String()
}

// Decodable reports whether shrink can decode and optimize the format.
func (f Format) Decodable() bool {
	return f == FormatPNG || f == FormatJPEG
}

// ParseFormat maps an extension or format name to a Format. "jpg" is an
// alias of "jpeg". Matching is case-insensitive.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	case "avif":
		return FormatAVIF, nil
	default:
		return FormatUnknown, fmt.Errorf("unknown image format %q", name)
	}
}

// FormatFromPath derives the format from the path extension.
func FormatFromPath(path string) Format {
	f, err := ParseFormat(Extension(path))
	if err != nil {
		return FormatUnknown
	}
	return f
}

// Extension returns the lower-cased extension of path without the dot.
func Extension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// DecodableExtensions lists the extensions accepted for optimization.
func DecodableExtensions() []string {
	return []string{"png", "jpg", "jpeg"}
}

// IsDecodableExtension reports whether ext (without dot) is in DecodableExtensions.
func IsDecodableExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, candidate := range DecodableExtensions() {
		if candidate == ext {
			return true
		}
	}
	return false
}

// ReplaceExt swaps the extension of path for the one of target.
func ReplaceExt(path string, target Format) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + target.Ext()
}
