package browser

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"freport/internal/capture"
	"freport/internal/logging"
)

// readyJS reports whether the page's visuals have settled: every canvas
// has non-zero dimensions and every image has finished decoding. Charts
// that never render keep this false; the orchestrator treats that as a
// soft timeout, not a failure.
const readyJS = `
() => {
	const canvases = Array.from(document.querySelectorAll('canvas'));
	if (canvases.some(c => c.width === 0 || c.height === 0)) return false;
	return Array.from(document.images).every(img => img.complete);
}
`

// PageSession wraps one open page. It implements capture.Rasterizer; the
// page must not be navigated or mutated by other code while a capture is
// in progress.
type PageSession struct {
	page *rod.Page
	cfg  Config
	url  string
}

// prepare applies the viewport, forces an opaque white background so
// transparent regions rasterize the way the output document expects,
// and waits for the initial load.
func (s *PageSession) prepare(ctx context.Context) error {
	page := s.page.Context(ctx)

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.GetViewportWidth(),
		Height:            s.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}

	alpha := 1.0
	if err := (proto.EmulationSetDefaultBackgroundColorOverride{
		Color: &proto.DOMRGBA{R: 255, G: 255, B: 255, A: &alpha},
	}).Call(page); err != nil {
		return fmt.Errorf("set background: %w", err)
	}

	if err := page.Timeout(s.cfg.NavigationTimeout()).WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", s.url, err)
	}
	return nil
}

// URL returns the address this session was opened on.
func (s *PageSession) URL() string {
	return s.url
}

// Close closes the underlying page.
func (s *PageSession) Close() error {
	return s.page.Close()
}

// VisualsReady polls the page once for visual readiness.
func (s *PageSession) VisualsReady(ctx context.Context) (bool, error) {
	res, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      readyJS,
		ByValue: true,
	})
	if err != nil || res == nil {
		return false, fmt.Errorf("readiness poll: %w", err)
	}
	return res.Value.Bool(), nil
}

// CaptureNode rasterizes the first element matching selector as a PNG at
// the requested device scale. A missing node or a failed screenshot is a
// hard capture failure.
func (s *PageSession) CaptureNode(ctx context.Context, selector string, opts capture.CaptureOptions) (capture.Image, error) {
	timer := logging.StartTimer(logging.CategoryCapture, "CaptureNode "+selector)
	defer timer.StopWithThreshold(5 * time.Second)

	page := s.capturePage(ctx, opts)
	if err := s.applyScale(page, opts.EffectiveScale()); err != nil {
		return capture.Image{}, err
	}

	el, err := page.Element(selector)
	if err != nil {
		return capture.Image{}, fmt.Errorf("element %q: %w", selector, err)
	}
	if err := el.ScrollIntoView(); err != nil {
		return capture.Image{}, fmt.Errorf("scroll %q into view: %w", selector, err)
	}

	data, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return capture.Image{}, fmt.Errorf("screenshot %q: %w", selector, err)
	}
	return decodeCapture(data, opts.EffectiveScale())
}

// CapturePage rasterizes the full scrollable page as a PNG.
func (s *PageSession) CapturePage(ctx context.Context, opts capture.CaptureOptions) (capture.Image, error) {
	timer := logging.StartTimer(logging.CategoryCapture, "CapturePage")
	defer timer.StopWithThreshold(5 * time.Second)

	page := s.capturePage(ctx, opts)
	if err := s.applyScale(page, opts.EffectiveScale()); err != nil {
		return capture.Image{}, err
	}

	data, err := page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return capture.Image{}, fmt.Errorf("full page screenshot: %w", err)
	}
	return decodeCapture(data, opts.EffectiveScale())
}

func (s *PageSession) capturePage(ctx context.Context, opts capture.CaptureOptions) *rod.Page {
	page := s.page.Context(ctx)
	if opts.Timeout > 0 {
		page = page.Timeout(opts.Timeout)
	}
	return page
}

func (s *PageSession) applyScale(page *rod.Page, scale float64) error {
	err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.GetViewportWidth(),
		Height:            s.cfg.GetViewportHeight(),
		DeviceScaleFactor: scale,
		Mobile:            false,
	}).Call(page)
	if err != nil {
		return fmt.Errorf("set capture scale %.1fx: %w", scale, err)
	}
	return nil
}

// decodeCapture reads the PNG header for the intrinsic pixel dimensions.
func decodeCapture(data []byte, scale float64) (capture.Image, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return capture.Image{}, fmt.Errorf("decode capture: %w", err)
	}
	img := capture.Image{Data: data, Width: cfg.Width, Height: cfg.Height, Scale: scale}
	if !img.Valid() {
		return capture.Image{}, capture.ErrEmptyCapture
	}
	logging.BrowserDebug("captured %dx%d png (%d bytes)", cfg.Width, cfg.Height, len(data))
	return img, nil
}
