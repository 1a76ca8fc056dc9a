package imageprep

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"photo.jpg", true},
		{"PHOTO.JPG", true},
		{"doc.pdf", true},
		{"notes.md", true},
		{"payload.exe", false},
		{"script.sh", false},
		{"noext", false},
	}
	for _, tt := range tests {
		if got := ExtensionAllowed(tt.name); got != tt.want {
			t.Errorf("ExtensionAllowed(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPrepareNonImagePassthrough(t *testing.T) {
	data := []byte("plain text content")
	if got := Prepare(data, "notes.txt"); !bytes.Equal(got, data) {
		t.Error("non-image content modified")
	}
}

func TestPrepareCorruptImagePassthrough(t *testing.T) {
	data := []byte("not actually a png")
	if got := Prepare(data, "fake.png"); !bytes.Equal(got, data) {
		t.Error("undecodable image should pass through unchanged")
	}
}

func TestPrepareNeverGrows(t *testing.T) {
	// A tiny best-compressed PNG cannot be improved; Prepare must return
	// the original bytes rather than a larger re-encode.
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), A: 255})
		}
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	original := buf.Bytes()

	got := Prepare(original, "tiny.png")
	if len(got) > len(original) {
		t.Errorf("Prepare grew the file: %d -> %d bytes", len(original), len(got))
	}
}

func TestPrepareShrinksLooselyEncodedPNG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64)) // uniform, highly compressible
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	original := buf.Bytes()

	got := Prepare(original, "loose.png")
	if len(got) >= len(original) {
		t.Errorf("expected recompression win: %d -> %d bytes", len(original), len(got))
	}
	if _, err := png.Decode(bytes.NewReader(got)); err != nil {
		t.Errorf("recompressed output not decodable: %v", err)
	}
}
