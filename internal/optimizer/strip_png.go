package optimizer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var pngSignature = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

// pngChunk is one length/type/data/crc record of a PNG stream.
type pngChunk struct {
	name string
	// raw holds the whole record including length and crc.
	raw []byte
	// data is the chunk payload, aliasing raw.
	data []byte
}

func readPNGChunks(data []byte) ([]pngChunk, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, errors.New("invalid PNG signature")
	}

	var chunks []pngChunk
	rest := data[len(pngSignature):]
	for len(rest) > 0 {
		if len(rest) < 12 {
			return nil, fmt.Errorf("truncated PNG chunk header")
		}
		length := binary.BigEndian.Uint32(rest[:4])
		total := 12 + int64(length)
		if int64(len(rest)) < total {
			return nil, fmt.Errorf("truncated PNG chunk %q", rest[4:8])
		}
		chunk := pngChunk{
			name: string(rest[4:8]),
			raw:  rest[:total],
			data: rest[8 : 8+int64(length)],
		}
		chunks = append(chunks, chunk)
		rest = rest[total:]
		if chunk.name == "IEND" {
			break
		}
	}
	return chunks, nil
}

// stripPNG drops metadata chunks and returns the rewritten stream and the
// number of chunks removed.
func stripPNG(data []byte, preserveICC bool) ([]byte, int, error) {
	chunks, err := readPNGChunks(data)
	if err != nil {
		return nil, 0, err
	}

	var out bytes.Buffer
	out.Grow(len(data))
	out.Write(pngSignature)
	removed := 0
	for _, chunk := range chunks {
		if isPNGMetadataChunk(chunk.name, preserveICC) {
			removed++
			continue
		}
		out.Write(chunk.raw)
	}
	return out.Bytes(), removed, nil
}

func isPNGMetadataChunk(name string, preserveICC bool) bool {
	switch name {
	case "tEXt", "zTXt", "iTXt", "eXIf", "tIME":
		return true
	case "iCCP":
		return !preserveICC
	default:
		return false
	}
}

// countPNGMetadata counts metadata chunks, expanding eXIf payloads into their
// individual tags.
func countPNGMetadata(data []byte) (int, error) {
	chunks, err := readPNGChunks(data)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, chunk := range chunks {
		switch chunk.name {
		case "tEXt", "zTXt", "iTXt", "tIME", "iCCP":
			count++
		case "eXIf":
			tags, err := countExifTags(chunk.data)
			if err != nil || tags == 0 {
				count++
				continue
			}
			count += tags
		}
	}
	return count, nil
}
