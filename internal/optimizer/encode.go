package optimizer

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"

	"shrink/pkg/imgutil"
)

// avifSpeed trades encode time for size, 0 (slowest) to 10.
const avifSpeed = 8

// canEncode reports whether Engine can write the format.
func canEncode(f imgutil.Format) bool {
	switch f {
	case imgutil.FormatPNG, imgutil.FormatJPEG, imgutil.FormatWebP, imgutil.FormatAVIF:
		return true
	}
	return false
}

func decodeImage(data []byte) (image.Image, error) {
	switch imgutil.Sniff(data) {
	case imgutil.FormatPNG:
		return png.Decode(bytes.NewReader(data))
	case imgutil.FormatJPEG:
		return jpeg.Decode(bytes.NewReader(data))
	case imgutil.FormatWebP:
		return webp.Decode(bytes.NewReader(data))
	case imgutil.FormatAVIF:
		return avif.Decode(bytes.NewReader(data))
	default:
		return nil, errors.New("unrecognized image data")
	}
}

func encodeImage(img image.Image, f imgutil.Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch f {
	case imgutil.FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
	case imgutil.FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
			return nil, err
		}
	case imgutil.FormatWebP:
		if err := webp.Encode(&buf, img, webp.Options{Quality: clampQuality(quality)}); err != nil {
			return nil, err
		}
	case imgutil.FormatAVIF:
		q := clampQuality(quality)
		if err := avif.Encode(&buf, img, avif.Options{Quality: q, QualityAlpha: q, Speed: avifSpeed}); err != nil {
			return nil, err
		}
	default:
		return nil, errorf(CategoryFormat, "no encoder for %s", f)
	}
	return buf.Bytes(), nil
}

func clampQuality(q int) int {
	switch {
	case q < 1:
		return 1
	case q > 100:
		return 100
	default:
		return q
	}
}

// perceptualDiff returns the mean luma-weighted absolute difference between
// two images of equal bounds, in [0,1].
func perceptualDiff(a, b image.Image) (float64, error) {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return 0, errors.New("image dimensions differ")
	}
	if ab.Empty() {
		return 0, nil
	}

	var total float64
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			r1, g1, b1, a1 := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			r2, g2, b2, a2 := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			d := 0.299*absDiff(r1, r2) + 0.587*absDiff(g1, g2) + 0.114*absDiff(b1, b2)
			// alpha counts as much as the colour channels together
			total += (d + absDiff(a1, a2)) / 2
		}
	}
	return total / float64(ab.Dx()*ab.Dy()) / 0xffff, nil
}

func absDiff(a, b uint32) float64 {
	if a > b {
		return float64(a - b)
	}
	return float64(b - a)
}
