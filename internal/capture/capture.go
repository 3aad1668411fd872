// Package capture defines the core types and contracts for the DOM-to-PDF
// export pipeline: raster images, physical page formats, and the narrow
// Rasterizer / DocumentWriter capabilities that keep the pagination math
// independent of any concrete browser or PDF backend.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultScale is the oversampling factor applied when rasterizing a DOM
// node. Capturing at 2x and placing at physical size keeps text crisp in
// the output document.
const DefaultScale = 2.0

// Image is a rasterized DOM subtree: encoded PNG bytes plus the intrinsic
// pixel dimensions of the buffer. Width and Height are device pixels, i.e.
// already multiplied by the capture scale.
type Image struct {
	Data   []byte
	Width  int
	Height int
	Scale  float64
}

// AspectRatio returns width over height.
func (img Image) AspectRatio() float64 {
	if img.Height == 0 {
		return 0
	}
	return float64(img.Width) / float64(img.Height)
}

// Valid reports whether the image has pixel content.
func (img Image) Valid() bool {
	return len(img.Data) > 0 && img.Width > 0 && img.Height > 0
}

// PageFormat describes a physical output page in millimeters. Margin is
// uniform on all four sides; the area inside the margins is the content
// area available for placing images.
type PageFormat struct {
	Width  float64
	Height float64
	Margin float64
}

// A4Portrait returns the fixed output format used by every export flavor:
// 210x297mm portrait with a 10mm margin.
func A4Portrait() PageFormat {
	return PageFormat{Width: 210, Height: 297, Margin: 10}
}

// ContentWidth returns the horizontal space inside the margins.
func (f PageFormat) ContentWidth() float64 {
	return f.Width - 2*f.Margin
}

// ContentHeight returns the vertical space inside the margins.
func (f PageFormat) ContentHeight() float64 {
	return f.Height - 2*f.Margin
}

// Validate rejects formats with a non-positive content area.
func (f PageFormat) Validate() error {
	if f.ContentWidth() <= 0 || f.ContentHeight() <= 0 {
		return fmt.Errorf("page format %gx%gmm with %gmm margin has no content area", f.Width, f.Height, f.Margin)
	}
	return nil
}

// CaptureOptions tune a single rasterization call.
type CaptureOptions struct {
	// Scale is the device-pixel oversampling factor. Zero means DefaultScale.
	Scale float64
	// Timeout bounds the capture itself. Zero means the rasterizer default.
	Timeout time.Duration
}

// EffectiveScale resolves the zero value to DefaultScale.
func (o CaptureOptions) EffectiveScale() float64 {
	if o.Scale <= 0 {
		return DefaultScale
	}
	return o.Scale
}

// ErrEmptyCapture is returned by rasterizers when the captured node
// produced a zero-sized buffer.
var ErrEmptyCapture = errors.New("capture: node produced an empty image")

// Rasterizer converts a live DOM subtree into an Image. Implementations
// render against an opaque white background and must fail hard (rather
// than return a partial buffer) when the node cannot be captured;
// cross-origin content inside the node degrades to blank regions instead
// of aborting.
type Rasterizer interface {
	// CaptureNode rasterizes the first element matching the CSS selector.
	CaptureNode(ctx context.Context, selector string, opts CaptureOptions) (Image, error)
	// CapturePage rasterizes the full scrollable page.
	CapturePage(ctx context.Context, opts CaptureOptions) (Image, error)
}

// DocumentWriter assembles placed images into a multi-page document.
// A writer starts with one open page; AddPage appends and switches to a
// new one. Placement coordinates are millimeters from the top-left page
// corner, and implementations clip drawn content to the page content area
// so oversized slices never bleed across page boundaries.
type DocumentWriter interface {
	AddPage()
	PlaceImage(img Image, x, y, w, h float64) error
	PageCount() int
	// Bytes finalizes the document. Any placement error deferred by the
	// backend surfaces here at the latest.
	Bytes() ([]byte, error)
}
