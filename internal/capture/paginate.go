package capture

import (
	"fmt"
	"math"
)

// heightTolerance absorbs floating-point noise when the scaled image
// height lands exactly on a page boundary. An image measuring 3H must
// paginate to 3 pages, not 3 pages plus an empty trailer.
const heightTolerance = 1e-6

// Slice maps one output page onto a window of a scaled raster image.
// The full image is drawn on every page at OffsetMM (zero on the first
// page, increasingly negative afterwards) and the writer clips it to the
// content area, so consecutive slices tile the image with no gap and no
// overlap.
type Slice struct {
	Image Image
	// Page is the zero-based index of the slice within its sequence.
	Page int
	// OffsetMM is the vertical draw offset relative to the top margin.
	OffsetMM float64
	// WidthMM and HeightMM are the dimensions the full image is drawn at.
	WidthMM  float64
	HeightMM float64
	// VisibleMM is the portion of HeightMM that falls inside this page's
	// content window.
	VisibleMM float64
}

// Paginate slices img into consecutive page windows of format's content
// area. The image is scaled so its width fills the content width; the
// proportional height determines the page count: ceil(h/H), with exact
// multiples of H producing no trailing empty page. An image that fits on
// one page yields a single slice placed at the top margin.
func Paginate(img Image, format PageFormat) ([]Slice, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if !img.Valid() {
		return nil, fmt.Errorf("paginate %dx%d image: %w", img.Width, img.Height, ErrEmptyCapture)
	}

	w := format.ContentWidth()
	h := format.ContentHeight()
	total := w * float64(img.Height) / float64(img.Width)

	pages := int(math.Ceil((total - heightTolerance) / h))
	if pages < 1 {
		pages = 1
	}

	slices := make([]Slice, 0, pages)
	for i := 0; i < pages; i++ {
		visible := total - float64(i)*h
		if visible > h {
			visible = h
		}
		slices = append(slices, Slice{
			Image:     img,
			Page:      i,
			OffsetMM:  -float64(i) * h,
			WidthMM:   w,
			HeightMM:  total,
			VisibleMM: visible,
		})
	}
	return slices, nil
}
