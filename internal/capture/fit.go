package capture

import "fmt"

// Placement positions an image on a single page, in millimeters from the
// top-left page corner.
type Placement struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// FitToPage scales img to fill the content width of format, shrinking
// further if the proportional height would overflow the content height.
// The result is centered in the content area with the aspect ratio
// preserved. Used by the one-section-per-page export flavor, where a tall
// section is clamped to its page instead of being split.
func FitToPage(img Image, format PageFormat) (Placement, error) {
	if err := format.Validate(); err != nil {
		return Placement{}, err
	}
	if !img.Valid() {
		return Placement{}, fmt.Errorf("fit %dx%d image: %w", img.Width, img.Height, ErrEmptyCapture)
	}

	cw := format.ContentWidth()
	ch := format.ContentHeight()

	w := cw
	h := w * float64(img.Height) / float64(img.Width)
	if h > ch {
		scale := ch / h
		w *= scale
		h = ch
	}

	return Placement{
		X:      format.Margin + (cw-w)/2,
		Y:      format.Margin + (ch-h)/2,
		Width:  w,
		Height: h,
	}, nil
}
