package optimizer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	jpegExifHeader = []byte("Exif\x00\x00")
	jpegXmpHeader  = []byte("http://ns.adobe.com/xap/1.0/\x00")
	jpegPhotoshop  = []byte("Photoshop 3.0\x00")
	jpegICCHeader  = []byte("ICC_PROFILE\x00")
)

const (
	markerSOI   = 0xd8
	markerEOI   = 0xd9
	markerSOS   = 0xda
	markerAPP1  = 0xe1
	markerAPP2  = 0xe2
	markerAPP13 = 0xed
)

// jpegSegment is one marker segment preceding the scan data.
type jpegSegment struct {
	marker byte
	// raw holds marker bytes, length and payload.
	raw     []byte
	payload []byte
}

// readJPEGSegments splits a JPEG into its header segments and the remainder
// starting at the first SOS marker (or EOI).
func readJPEGSegments(data []byte) ([]jpegSegment, []byte, error) {
	if len(data) < 2 || data[0] != 0xff || data[1] != markerSOI {
		return nil, nil, errors.New("invalid JPEG SOI")
	}

	var segments []jpegSegment
	pos := 2
	for {
		for pos < len(data) && data[pos] != 0xff {
			pos++
		}
		start := pos
		for pos < len(data) && data[pos] == 0xff {
			pos++
		}
		if pos >= len(data) {
			return nil, nil, errors.New("unexpected end of JPEG")
		}
		marker := data[pos]
		pos++

		switch {
		case marker == markerEOI || marker == markerSOS:
			return segments, data[start:], nil
		case marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7):
			segments = append(segments, jpegSegment{marker: marker, raw: data[start:pos]})
			continue
		}

		if pos+2 > len(data) {
			return nil, nil, errors.New("truncated JPEG segment length")
		}
		segLen := int(binary.BigEndian.Uint16(data[pos : pos+2]))
		if segLen < 2 {
			return nil, nil, fmt.Errorf("invalid JPEG segment length")
		}
		end := pos + segLen
		if end > len(data) {
			return nil, nil, fmt.Errorf("truncated JPEG segment 0x%x", marker)
		}
		segments = append(segments, jpegSegment{
			marker:  marker,
			raw:     data[start:end],
			payload: data[pos+2 : end],
		})
		pos = end
	}
}

// stripJPEG drops EXIF, XMP, Photoshop and (optionally) ICC segments.
func stripJPEG(data []byte, preserveICC bool) ([]byte, int, error) {
	segments, tail, err := readJPEGSegments(data)
	if err != nil {
		return nil, 0, err
	}

	var out bytes.Buffer
	out.Grow(len(data))
	out.Write([]byte{0xff, markerSOI})
	removed := 0
	for _, seg := range segments {
		if isJPEGMetadataSegment(seg, preserveICC) {
			removed++
			continue
		}
		out.Write(seg.raw)
	}
	out.Write(tail)
	return out.Bytes(), removed, nil
}

func isJPEGMetadataSegment(seg jpegSegment, preserveICC bool) bool {
	switch seg.marker {
	case markerAPP1:
		return bytes.HasPrefix(seg.payload, jpegExifHeader) || bytes.HasPrefix(seg.payload, jpegXmpHeader)
	case markerAPP13:
		return bytes.HasPrefix(seg.payload, jpegPhotoshop)
	case markerAPP2:
		return !preserveICC && bytes.HasPrefix(seg.payload, jpegICCHeader)
	default:
		return false
	}
}

// countJPEGMetadata counts EXIF tags plus one per other metadata segment.
func countJPEGMetadata(data []byte) (int, error) {
	segments, _, err := readJPEGSegments(data)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, seg := range segments {
		if !isJPEGMetadataSegment(seg, false) {
			continue
		}
		if seg.marker == markerAPP1 && bytes.HasPrefix(seg.payload, jpegExifHeader) {
			tags, err := countExifTags(seg.payload[len(jpegExifHeader):])
			if err == nil && tags > 0 {
				count += tags
				continue
			}
		}
		count++
	}
	return count, nil
}
