package capture

import (
	"math"
	"testing"
)

func TestFitToPage(t *testing.T) {
	format := A4Portrait()
	cw := format.ContentWidth()
	ch := format.ContentHeight()

	tests := []struct {
		name  string
		img   Image
		wantW float64
		wantH float64
	}{
		{
			// Width-limited: fills content width, height derived.
			name:  "wide section",
			img:   testImage(1900, 950),
			wantW: cw,
			wantH: cw / 2,
		},
		{
			// Height-limited: a tall evidence photo is clamped to the
			// content height instead of being split.
			name:  "tall section",
			img:   testImage(1000, 4000),
			wantW: ch / 4,
			wantH: ch,
		},
		{
			name:  "square section",
			img:   testImage(1200, 1200),
			wantW: cw,
			wantH: cw,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := FitToPage(tt.img, format)
			if err != nil {
				t.Fatalf("FitToPage failed: %v", err)
			}
			if math.Abs(p.Width-tt.wantW) > 1e-9 || math.Abs(p.Height-tt.wantH) > 1e-9 {
				t.Errorf("placement %gx%g, want %gx%g", p.Width, p.Height, tt.wantW, tt.wantH)
			}

			// Centered inside the content area.
			if wantX := format.Margin + (cw-p.Width)/2; math.Abs(p.X-wantX) > 1e-9 {
				t.Errorf("x = %v, want %v", p.X, wantX)
			}
			if wantY := format.Margin + (ch-p.Height)/2; math.Abs(p.Y-wantY) > 1e-9 {
				t.Errorf("y = %v, want %v", p.Y, wantY)
			}

			// Never extends past the content bounds.
			if p.X < format.Margin-1e-9 || p.Y < format.Margin-1e-9 ||
				p.X+p.Width > format.Margin+cw+1e-9 || p.Y+p.Height > format.Margin+ch+1e-9 {
				t.Errorf("placement %+v escapes content area", p)
			}

			if got, want := p.Width/p.Height, tt.img.AspectRatio(); math.Abs(got-want) > 1e-9 {
				t.Errorf("aspect ratio %v, want %v", got, want)
			}
		})
	}
}

func TestFitToPageRejectsBadInput(t *testing.T) {
	if _, err := FitToPage(Image{}, A4Portrait()); err == nil {
		t.Error("empty image accepted")
	}
}
