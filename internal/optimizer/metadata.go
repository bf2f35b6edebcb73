package optimizer

import (
	"errors"
	"fmt"

	exif "github.com/dsoprea/go-exif/v3"

	"shrink/pkg/imgutil"
)

// countExifTags parses a raw TIFF-structured EXIF block and counts its tags.
func countExifTags(raw []byte) (count int, err error) {
	defer func() {
		if state := recover(); state != nil {
			count, err = 0, fmt.Errorf("parse exif: %v", state)
		}
	}()

	tags, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil {
		if errors.Is(err, exif.ErrNoExif) {
			return 0, nil
		}
		return 0, err
	}
	return len(tags), nil
}

// countMetadata reports how many metadata tags an image carries.
func countMetadata(data []byte, format imgutil.Format) (int, error) {
	switch format {
	case imgutil.FormatPNG:
		return countPNGMetadata(data)
	case imgutil.FormatJPEG:
		return countJPEGMetadata(data)
	default:
		return 0, nil
	}
}

func stripMetadata(data []byte, format imgutil.Format, preserveICC bool) ([]byte, int, error) {
	switch format {
	case imgutil.FormatPNG:
		return stripPNG(data, preserveICC)
	case imgutil.FormatJPEG:
		return stripJPEG(data, preserveICC)
	default:
		return data, 0, nil
	}
}
