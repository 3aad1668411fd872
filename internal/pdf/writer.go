// Package pdf implements the capture.DocumentWriter contract on top of
// gofpdf. Pages are fixed-format millimeter pages; placed images are
// clipped to the content area so a slice drawn at a negative offset shows
// only its own page window.
package pdf

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"freport/internal/capture"
)

// Writer assembles captured images into a PDF document. It is not safe
// for concurrent use; one export owns one writer.
type Writer struct {
	pdf    *gofpdf.Fpdf
	format capture.PageFormat
	images int
}

// NewWriter creates a document in the given format with its first page
// already open.
func NewWriter(format capture.PageFormat) (*Writer, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	doc := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: format.Width, Ht: format.Height},
	})
	doc.SetMargins(format.Margin, format.Margin, format.Margin)
	// Placement is always explicit; the paginator decides page breaks.
	doc.SetAutoPageBreak(false, 0)
	doc.AddPage()
	if err := doc.Error(); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	return &Writer{pdf: doc, format: format}, nil
}

// AddPage appends a new page and makes it current.
func (w *Writer) AddPage() {
	w.pdf.AddPage()
}

// PageCount returns the number of pages in the document so far.
func (w *Writer) PageCount() int {
	return w.pdf.PageCount()
}

// PlaceImage draws img on the current page at (x, y) scaled to wmm x hmm,
// clipped to the page content area. Negative y offsets are how the
// paginator shows later windows of a tall image.
func (w *Writer) PlaceImage(img capture.Image, x, y, wmm, hmm float64) error {
	if !img.Valid() {
		return fmt.Errorf("place image: %w", capture.ErrEmptyCapture)
	}

	w.images++
	name := fmt.Sprintf("capture-%d", w.images)
	opts := gofpdf.ImageOptions{ImageType: "PNG", AllowNegativePosition: true}

	w.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(img.Data))
	if err := w.pdf.Error(); err != nil {
		return fmt.Errorf("register image %s: %w", name, err)
	}

	m := w.format.Margin
	w.pdf.ClipRect(m, m, w.format.ContentWidth(), w.format.ContentHeight(), false)
	w.pdf.ImageOptions(name, x, y, wmm, hmm, false, opts, 0, "")
	w.pdf.ClipEnd()
	if err := w.pdf.Error(); err != nil {
		return fmt.Errorf("place image %s: %w", name, err)
	}
	return nil
}

// Bytes serializes the document. Called once, after all placements.
func (w *Writer) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := w.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("serialize document: %w", err)
	}
	return buf.Bytes(), nil
}
