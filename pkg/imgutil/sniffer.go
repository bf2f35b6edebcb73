package imgutil

import (
	"bytes"
	"errors"
	"io"
	"os"
)

const headerSize = 12

var (
	pngSig    = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	jpegSig   = []byte{0xff, 0xd8, 0xff}
	riffSig   = []byte("RIFF")
	webpSig   = []byte("WEBP")
	ftypSig   = []byte("ftyp")
	avifBrand = []byte("avif")
	avisBrand = []byte("avis")
)

// DetectHeader inspects the first 12 bytes of a file for known signatures.
func DetectHeader(header []byte) (Format, error) {
	if len(header) < headerSize {
		return FormatUnknown, errors.New("header too short")
	}

	switch {
	case bytes.HasPrefix(header, jpegSig):
		return FormatJPEG, nil
	case bytes.HasPrefix(header, pngSig):
		return FormatPNG, nil
	case bytes.HasPrefix(header, riffSig) && bytes.Equal(header[8:12], webpSig):
		return FormatWebP, nil
	case bytes.Equal(header[4:8], ftypSig) && (bytes.Equal(header[8:12], avifBrand) || bytes.Equal(header[8:12], avisBrand)):
		return FormatAVIF, nil
	}

	return FormatUnknown, nil
}

// SniffFile reads the header of a file to determine its format.
func SniffFile(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()

	return SniffReader(f)
}

// SniffReader reads the header from r and determines its format.
func SniffReader(r io.Reader) (Format, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return FormatUnknown, err
	}

	return DetectHeader(header)
}

// Sniff determines the format of an in-memory image.
func Sniff(data []byte) Format {
	f, err := DetectHeader(data)
	if err != nil {
		return FormatUnknown
	}
	return f
}
