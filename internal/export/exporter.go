// Package export orchestrates the DOM-to-PDF pipeline: wait for the
// page's visuals to settle, rasterize, paginate or fit, assemble the
// document, and write the output file. Two flavors exist: the aggregate
// ("global") export captures one root node and splits it across pages;
// the individual report export places a cover plus each evidence and
// expense section on its own page.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"freport/internal/capture"
	"freport/internal/logging"
)

// State tracks an export invocation through its lifecycle.
type State int

const (
	StateIdle State = iota
	StateWaitingRender
	StateCapturing
	StateAssembling
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingRender:
		return "waiting_render"
	case StateCapturing:
		return "capturing"
	case StateAssembling:
		return "assembling"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is the captured page: a rasterizer plus a visual-readiness
// probe. browser.PageSession satisfies it.
type Session interface {
	capture.Rasterizer
	VisualsReady(ctx context.Context) (bool, error)
}

// WriterFactory creates a fresh document writer per export.
type WriterFactory func(capture.PageFormat) (capture.DocumentWriter, error)

// Result describes a completed export.
type Result struct {
	JobID    string
	Path     string
	Pages    int
	Duration time.Duration
}

// Options configure an Exporter.
type Options struct {
	Format    capture.PageFormat
	OutputDir string
	// Scale is the capture oversampling factor; zero means capture.DefaultScale.
	Scale float64
	// SettleDelay runs after the readiness poll, letting image decode
	// finish. Default 400ms.
	SettleDelay time.Duration
	// ReadinessTimeout bounds the visual-readiness poll. Exceeding it is
	// soft: the export proceeds best-effort. Default 2s.
	ReadinessTimeout time.Duration
	// PollInterval is the readiness poll period. Default 100ms.
	PollInterval time.Duration

	Clock     Clock
	NewWriter WriterFactory

	// OnStateChange observes lifecycle transitions. Optional.
	OnStateChange func(State)
	// OnComplete fires only when an export reaches Done. Optional.
	OnComplete func(Result)
}

func (o *Options) fillDefaults() {
	if o.Format == (capture.PageFormat{}) {
		o.Format = capture.A4Portrait()
	}
	if o.Scale <= 0 {
		o.Scale = capture.DefaultScale
	}
	if o.SettleDelay == 0 {
		o.SettleDelay = 400 * time.Millisecond
	}
	if o.ReadinessTimeout == 0 {
		o.ReadinessTimeout = 2 * time.Second
	}
	if o.PollInterval == 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
}

// GlobalRequest asks for a single-capture paginated export.
type GlobalRequest struct {
	Session Session
	// RootSelector is the node containing the whole summary view.
	RootSelector string
}

// ReportRequest asks for a multi-section one-per-page export.
type ReportRequest struct {
	Session  Session
	ReportID int64
	// CoverSelector becomes page 1, fit to the page.
	CoverSelector string
	// EvidenceSelectors each get their own page, in order.
	EvidenceSelectors []string
	// ExpenseSelectors follow all evidence pages when IncludeExpenses
	// is set.
	ExpenseSelectors []string
	IncludeExpenses  bool
}

// Exporter runs exports one at a time. A second request while one is in
// flight is rejected with ErrExportInFlight rather than racing over the
// shared page.
type Exporter struct {
	opts     Options
	inFlight atomic.Bool
}

// New creates an Exporter. The writer factory is required.
func New(opts Options) (*Exporter, error) {
	opts.fillDefaults()
	if opts.NewWriter == nil {
		return nil, fmt.Errorf("export: writer factory required")
	}
	if err := opts.Format.Validate(); err != nil {
		return nil, err
	}
	return &Exporter{opts: opts}, nil
}

// InFlight reports whether an export is currently running.
func (e *Exporter) InFlight() bool {
	return e.inFlight.Load()
}

func (e *Exporter) setState(s State, audit *logging.AuditLogger) {
	logging.Export("state -> %s", s)
	audit.Stage(s.String())
	if e.opts.OnStateChange != nil {
		e.opts.OnStateChange(s)
	}
}

// ExportGlobal captures the root node once and splits it across as many
// pages as its height requires.
func (e *Exporter) ExportGlobal(ctx context.Context, req GlobalRequest) (Result, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrExportInFlight
	}
	defer e.inFlight.Store(false)

	jobID := uuid.NewString()
	audit := logging.AuditForJob(jobID, "global")
	audit.Start(req.RootSelector)
	start := e.opts.Clock.Now()

	fail := func(state State, err error) (Result, error) {
		e.setState(StateFailed, audit)
		audit.Failed(state.String(), err, e.opts.Clock.Now().Sub(start).Milliseconds())
		return Result{JobID: jobID}, err
	}

	e.setState(StateWaitingRender, audit)
	if err := e.waitRender(ctx, req.Session); err != nil {
		return fail(StateWaitingRender, err)
	}

	e.setState(StateCapturing, audit)
	img, err := e.captureSection(ctx, req.Session, req.RootSelector, audit)
	if err != nil {
		return fail(StateCapturing, err)
	}

	e.setState(StateAssembling, audit)
	slices, err := capture.Paginate(img, e.opts.Format)
	if err != nil {
		return fail(StateAssembling, &AssemblyError{Stage: "paginate", Err: err})
	}

	w, err := e.opts.NewWriter(e.opts.Format)
	if err != nil {
		return fail(StateAssembling, &AssemblyError{Stage: "create document", Err: err})
	}
	margin := e.opts.Format.Margin
	for _, s := range slices {
		if s.Page > 0 {
			w.AddPage()
		}
		if err := w.PlaceImage(s.Image, margin, margin+s.OffsetMM, s.WidthMM, s.HeightMM); err != nil {
			return fail(StateAssembling, &AssemblyError{Stage: fmt.Sprintf("place page %d", s.Page+1), Err: err})
		}
	}

	path := filepath.Join(e.opts.OutputDir, GlobalFileName(start))
	result, err := e.finish(w, path, jobID, start, audit)
	if err != nil {
		return fail(StateAssembling, err)
	}
	return result, nil
}

// ExportReport places the cover on page 1 and every evidence (and,
// optionally, expense) section on its own page, each fit to the page
// bounds rather than split.
func (e *Exporter) ExportReport(ctx context.Context, req ReportRequest) (Result, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrExportInFlight
	}
	defer e.inFlight.Store(false)

	jobID := uuid.NewString()
	audit := logging.AuditForJob(jobID, "report")
	audit.Start(req.CoverSelector)
	start := e.opts.Clock.Now()

	fail := func(state State, err error) (Result, error) {
		e.setState(StateFailed, audit)
		audit.Failed(state.String(), err, e.opts.Clock.Now().Sub(start).Milliseconds())
		return Result{JobID: jobID}, err
	}

	e.setState(StateWaitingRender, audit)
	if err := e.waitRender(ctx, req.Session); err != nil {
		return fail(StateWaitingRender, err)
	}

	e.setState(StateCapturing, audit)
	sections := make([]string, 0, 1+len(req.EvidenceSelectors)+len(req.ExpenseSelectors))
	sections = append(sections, req.CoverSelector)
	sections = append(sections, req.EvidenceSelectors...)
	if req.IncludeExpenses {
		sections = append(sections, req.ExpenseSelectors...)
	}

	// Sections are captured strictly in order: cover, evidences,
	// expenses. Capture everything before assembly so a failure on any
	// section aborts before a document exists.
	images := make([]capture.Image, 0, len(sections))
	for _, sel := range sections {
		img, err := e.captureSection(ctx, req.Session, sel, audit)
		if err != nil {
			return fail(StateCapturing, err)
		}
		images = append(images, img)
	}

	e.setState(StateAssembling, audit)
	w, err := e.opts.NewWriter(e.opts.Format)
	if err != nil {
		return fail(StateAssembling, &AssemblyError{Stage: "create document", Err: err})
	}
	for i, img := range images {
		if i > 0 {
			w.AddPage()
		}
		placement, err := capture.FitToPage(img, e.opts.Format)
		if err != nil {
			return fail(StateAssembling, &AssemblyError{Stage: fmt.Sprintf("fit section %d", i+1), Err: err})
		}
		if err := w.PlaceImage(img, placement.X, placement.Y, placement.Width, placement.Height); err != nil {
			return fail(StateAssembling, &AssemblyError{Stage: fmt.Sprintf("place section %d", i+1), Err: err})
		}
	}

	path := filepath.Join(e.opts.OutputDir, ReportFileName(req.ReportID, start))
	result, err := e.finish(w, path, jobID, start, audit)
	if err != nil {
		return fail(StateAssembling, err)
	}
	return result, nil
}

// waitRender polls visual readiness up to the configured bound, then
// applies the settle delay. A poll timeout is soft; only context
// cancellation aborts.
func (e *Exporter) waitRender(ctx context.Context, s Session) error {
	deadline := e.opts.Clock.Now().Add(e.opts.ReadinessTimeout)
	for {
		ready, err := s.VisualsReady(ctx)
		if err != nil {
			// A failed poll is treated like a not-ready poll; the
			// bounded loop still terminates.
			logging.ExportWarn("readiness poll error: %v", err)
		}
		if ready {
			break
		}
		if !e.opts.Clock.Now().Before(deadline) {
			logging.ExportWarn("visual readiness timed out after %v, proceeding best-effort", e.opts.ReadinessTimeout)
			break
		}
		if err := e.opts.Clock.Sleep(ctx, e.opts.PollInterval); err != nil {
			return err
		}
	}
	return e.opts.Clock.Sleep(ctx, e.opts.SettleDelay)
}

func (e *Exporter) captureSection(ctx context.Context, s Session, selector string, audit *logging.AuditLogger) (capture.Image, error) {
	capStart := e.opts.Clock.Now()
	img, err := s.CaptureNode(ctx, selector, capture.CaptureOptions{Scale: e.opts.Scale})
	elapsed := e.opts.Clock.Now().Sub(capStart).Milliseconds()
	if err != nil {
		audit.Capture(selector, elapsed, false, err.Error())
		return capture.Image{}, &CaptureError{Selector: selector, Err: err}
	}
	audit.Capture(selector, elapsed, true, "")
	return img, nil
}

// finish serializes the document, writes the output file, and fires the
// completion callback.
func (e *Exporter) finish(w capture.DocumentWriter, path, jobID string, start time.Time, audit *logging.AuditLogger) (Result, error) {
	data, err := w.Bytes()
	if err != nil {
		return Result{}, &AssemblyError{Stage: "serialize", Err: err}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{}, &AssemblyError{Stage: "output dir", Err: err}
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		audit.FileWrite(path, int64(len(data)), false, err.Error())
		return Result{}, &AssemblyError{Stage: "write file", Err: err}
	}
	audit.FileWrite(path, int64(len(data)), true, "")

	result := Result{
		JobID:    jobID,
		Path:     path,
		Pages:    w.PageCount(),
		Duration: e.opts.Clock.Now().Sub(start),
	}
	e.setState(StateDone, audit)
	audit.Complete(path, result.Pages, result.Duration.Milliseconds())
	logging.Export("export %s complete: %s (%d pages in %v)", jobID, path, result.Pages, result.Duration)
	if e.opts.OnComplete != nil {
		e.opts.OnComplete(result)
	}
	return result, nil
}
