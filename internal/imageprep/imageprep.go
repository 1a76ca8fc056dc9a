// Package imageprep validates upload names and re-encodes compressible
// images before upload.
package imageprep

import (
	"bytes"
	"image"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/webp"

	"github.com/breezedrive/breezedrive/internal/logging"
)

// JPEGQuality is near-lossless; recompression only wins on unoptimized
// camera output anyway.
const JPEGQuality = 95

var allowedExts = map[string]bool{
	// pictures
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".bmp": true, ".svg": true, ".heic": true,
	// video
	".mp4": true, ".mov": true, ".mkv": true, ".avi": true, ".webm": true,
	// audio
	".mp3": true, ".wav": true, ".flac": true, ".ogg": true, ".m4a": true,
	// documents
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".txt": true, ".csv": true, ".md": true,
	// archives
	".zip": true, ".tar": true, ".gz": true, ".7z": true, ".rar": true,
}

// ExtensionAllowed reports whether the file name's extension is uploadable.
func ExtensionAllowed(name string) bool {
	return allowedExts[strings.ToLower(filepath.Ext(name))]
}

// Prepare re-encodes compressible images: lossless for PNG and WebP,
// near-lossless for JPEG with EXIF orientation applied. The recompressed
// bytes are returned only when smaller than the original; every other input
// passes through unchanged.
func Prepare(data []byte, name string) []byte {
	var out []byte
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		out = recompressJPEG(data)
	case ".png":
		out = recompressPNG(data)
	case ".webp":
		out = recompressWebP(data)
	default:
		return data
	}

	if out == nil || len(out) >= len(data) {
		return data
	}
	logging.Debug("image recompressed",
		logging.String("name", name),
		logging.Int("before", len(data)),
		logging.Int("after", len(out)))
	return out
}

func recompressJPEG(data []byte) []byte {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	img = applyOrientation(img, orientationOf(data))

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return nil
	}
	return buf.Bytes()
}

func recompressPNG(data []byte) []byte {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

// Go has no webp encoder; a webp input is re-encoded losslessly as PNG and
// used only when that happens to be smaller.
func recompressWebP(data []byte) []byte {
	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

// orientationOf reads the EXIF orientation tag, defaulting to 1 (upright).
func orientationOf(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
