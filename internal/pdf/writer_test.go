package pdf

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"freport/internal/capture"
)

// pngImage encodes a solid-color PNG of the given pixel size.
func pngImage(t *testing.T, w, h int) capture.Image {
	t.Helper()
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			rgba.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return capture.Image{Data: buf.Bytes(), Width: w, Height: h, Scale: capture.DefaultScale}
}

func TestNewWriterStartsWithOnePage(t *testing.T) {
	w, err := NewWriter(capture.A4Portrait())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if got := w.PageCount(); got != 1 {
		t.Errorf("page count = %d, want 1", got)
	}
	w.AddPage()
	w.AddPage()
	if got := w.PageCount(); got != 3 {
		t.Errorf("page count after two AddPage = %d, want 3", got)
	}
}

func TestPlaceImageAndSerialize(t *testing.T) {
	w, err := NewWriter(capture.A4Portrait())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	img := pngImage(t, 40, 30)
	if err := w.PlaceImage(img, 10, 10, 190, 142.5); err != nil {
		t.Fatalf("PlaceImage failed: %v", err)
	}

	// Negative offsets draw later windows of a tall image.
	w.AddPage()
	if err := w.PlaceImage(img, 10, -267, 190, 554); err != nil {
		t.Fatalf("PlaceImage with negative offset failed: %v", err)
	}

	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Errorf("output does not start with %%PDF header")
	}
}

func TestPlaceImageRejectsEmptyCapture(t *testing.T) {
	w, err := NewWriter(capture.A4Portrait())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.PlaceImage(capture.Image{}, 10, 10, 100, 100); err == nil {
		t.Error("empty image accepted")
	}
}

func TestNewWriterRejectsBadFormat(t *testing.T) {
	if _, err := NewWriter(capture.PageFormat{Width: 10, Height: 10, Margin: 10}); err == nil {
		t.Error("format without content area accepted")
	}
}
