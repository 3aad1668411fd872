package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"freport/internal/capture"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock advances only through Sleep, making the readiness poll and
// settle delay deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 17, 14, 32, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// fakeSession serves canned captures and readiness answers.
type fakeSession struct {
	mu         sync.Mutex
	readyAfter int // polls before VisualsReady reports true; -1 = never
	polls      int
	captured   []string
	images     map[string]capture.Image
	failOn     string
	gate       chan struct{} // when set, CaptureNode blocks until closed
}

func defaultImage() capture.Image {
	return capture.Image{Data: []byte{0x89, 'P', 'N', 'G'}, Width: 1000, Height: 700, Scale: 2}
}

func (s *fakeSession) VisualsReady(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.readyAfter < 0 {
		return false, nil
	}
	return s.polls > s.readyAfter, nil
}

func (s *fakeSession) CaptureNode(ctx context.Context, selector string, opts capture.CaptureOptions) (capture.Image, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captured = append(s.captured, selector)
	if selector == s.failOn {
		return capture.Image{}, errors.New("node removed from DOM")
	}
	if img, ok := s.images[selector]; ok {
		return img, nil
	}
	return defaultImage(), nil
}

func (s *fakeSession) CapturePage(ctx context.Context, opts capture.CaptureOptions) (capture.Image, error) {
	return defaultImage(), nil
}

// fakeWriter records page structure without a real PDF backend.
type fakeWriter struct {
	pages      int
	placements []capture.Placement
	placeErr   error
	bytesErr   error
}

func (w *fakeWriter) AddPage() { w.pages++ }

func (w *fakeWriter) PlaceImage(img capture.Image, x, y, wd, h float64) error {
	if w.placeErr != nil {
		return w.placeErr
	}
	w.placements = append(w.placements, capture.Placement{X: x, Y: y, Width: wd, Height: h})
	return nil
}

func (w *fakeWriter) PageCount() int { return w.pages }

func (w *fakeWriter) Bytes() ([]byte, error) {
	if w.bytesErr != nil {
		return nil, w.bytesErr
	}
	return []byte("%PDF-1.4 fake"), nil
}

func newTestExporter(t *testing.T, dir string, clk Clock, writer *fakeWriter, hooks *Options) *Exporter {
	t.Helper()
	opts := Options{
		OutputDir: dir,
		Clock:     clk,
		NewWriter: func(capture.PageFormat) (capture.DocumentWriter, error) {
			writer.pages = 1 // document starts with one open page
			return writer, nil
		},
	}
	if hooks != nil {
		opts.OnStateChange = hooks.OnStateChange
		opts.OnComplete = hooks.OnComplete
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func TestExportGlobalPageCount(t *testing.T) {
	dir := t.TempDir()
	writer := &fakeWriter{}
	session := &fakeSession{
		readyAfter: 0,
		// 1000px wide image, ~3 content-heights tall: 190mm content width
		// maps the height to ceil in three pages.
		images: map[string]capture.Image{
			"#global-report": {Data: []byte{1}, Width: 1000, Height: 4300, Scale: 2},
		},
	}

	e := newTestExporter(t, dir, newFakeClock(), writer, nil)
	res, err := e.ExportGlobal(context.Background(), GlobalRequest{Session: session, RootSelector: "#global-report"})
	if err != nil {
		t.Fatalf("ExportGlobal failed: %v", err)
	}

	// 190 * 4300/1000 = 817mm over 277mm windows -> 3 pages.
	if res.Pages != 3 {
		t.Errorf("pages = %d, want 3", res.Pages)
	}
	if len(writer.placements) != 3 {
		t.Errorf("placements = %d, want 3", len(writer.placements))
	}

	// Consecutive slices shift the same image up by one content height.
	for i, p := range writer.placements {
		wantY := 10 - float64(i)*277
		if p.Y != wantY {
			t.Errorf("placement %d y = %v, want %v", i, p.Y, wantY)
		}
	}

	if _, err := os.Stat(res.Path); err != nil {
		t.Errorf("output file missing: %v", err)
	}
}

func TestExportGlobalFileName(t *testing.T) {
	dir := t.TempDir()
	session := &fakeSession{readyAfter: 0}
	e := newTestExporter(t, dir, newFakeClock(), &fakeWriter{}, nil)

	res, err := e.ExportGlobal(context.Background(), GlobalRequest{Session: session, RootSelector: "#root"})
	if err != nil {
		t.Fatalf("ExportGlobal failed: %v", err)
	}

	pattern := regexp.MustCompile(`^Informe_Global_\d{4}-\d{2}-\d{2}_\d{2}-\d{2}\.pdf$`)
	if name := filepath.Base(res.Path); !pattern.MatchString(name) {
		t.Errorf("file name %q does not match aggregate pattern", name)
	}
}

func TestExportReportSectionOrder(t *testing.T) {
	tests := []struct {
		name            string
		evidences       []string
		expenses        []string
		includeExpenses bool
		wantPages       int
		wantOrder       []string
	}{
		{
			name:      "cover plus two evidences",
			evidences: []string{"#evidence-0", "#evidence-1"},
			wantPages: 3,
			wantOrder: []string{"#cover", "#evidence-0", "#evidence-1"},
		},
		{
			name:            "expenses follow evidences",
			evidences:       []string{"#evidence-0"},
			expenses:        []string{"#expense-0", "#expense-1"},
			includeExpenses: true,
			wantPages:       4,
			wantOrder:       []string{"#cover", "#evidence-0", "#expense-0", "#expense-1"},
		},
		{
			name:      "expenses excluded by default",
			evidences: []string{"#evidence-0"},
			expenses:  []string{"#expense-0"},
			wantPages: 2,
			wantOrder: []string{"#cover", "#evidence-0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer := &fakeWriter{}
			session := &fakeSession{readyAfter: 0}
			e := newTestExporter(t, t.TempDir(), newFakeClock(), writer, nil)

			res, err := e.ExportReport(context.Background(), ReportRequest{
				Session:           session,
				ReportID:          7,
				CoverSelector:     "#cover",
				EvidenceSelectors: tt.evidences,
				ExpenseSelectors:  tt.expenses,
				IncludeExpenses:   tt.includeExpenses,
			})
			if err != nil {
				t.Fatalf("ExportReport failed: %v", err)
			}
			if res.Pages != tt.wantPages {
				t.Errorf("pages = %d, want %d", res.Pages, tt.wantPages)
			}
			if len(session.captured) != len(tt.wantOrder) {
				t.Fatalf("captured %v, want %v", session.captured, tt.wantOrder)
			}
			for i, sel := range tt.wantOrder {
				if session.captured[i] != sel {
					t.Errorf("capture %d = %q, want %q", i, session.captured[i], sel)
				}
			}
		})
	}
}

func TestExportReportFileName(t *testing.T) {
	session := &fakeSession{readyAfter: 0}
	e := newTestExporter(t, t.TempDir(), newFakeClock(), &fakeWriter{}, nil)

	res, err := e.ExportReport(context.Background(), ReportRequest{
		Session:       session,
		ReportID:      42,
		CoverSelector: "#cover",
	})
	if err != nil {
		t.Fatalf("ExportReport failed: %v", err)
	}

	pattern := regexp.MustCompile(`^Informe_Reporte_42_\d{8}_\d{4}\.pdf$`)
	if name := filepath.Base(res.Path); !pattern.MatchString(name) {
		t.Errorf("file name %q does not match report pattern", name)
	}
}

func TestExportReportFitPreservesAspectRatio(t *testing.T) {
	img := capture.Image{Data: []byte{1}, Width: 800, Height: 3200, Scale: 2}
	writer := &fakeWriter{}
	session := &fakeSession{
		readyAfter: 0,
		images:     map[string]capture.Image{"#cover": img},
	}
	e := newTestExporter(t, t.TempDir(), newFakeClock(), writer, nil)

	if _, err := e.ExportReport(context.Background(), ReportRequest{
		Session:       session,
		ReportID:      1,
		CoverSelector: "#cover",
	}); err != nil {
		t.Fatalf("ExportReport failed: %v", err)
	}

	p := writer.placements[0]
	got := p.Width / p.Height
	want := img.AspectRatio()
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("placed ratio %v, want %v", got, want)
	}
	// A 1:4 image is height-limited: clamped to one page, not split.
	if p.Height != 277 {
		t.Errorf("tall cover height = %v, want clamped to 277", p.Height)
	}
}

func TestCoverCaptureFailureAbortsExport(t *testing.T) {
	dir := t.TempDir()
	completed := false
	var lastState State
	hooks := &Options{
		OnComplete:    func(Result) { completed = true },
		OnStateChange: func(s State) { lastState = s },
	}
	session := &fakeSession{readyAfter: 0, failOn: "#cover"}
	e := newTestExporter(t, dir, newFakeClock(), &fakeWriter{}, hooks)

	_, err := e.ExportReport(context.Background(), ReportRequest{
		Session:           session,
		ReportID:          9,
		CoverSelector:     "#cover",
		EvidenceSelectors: []string{"#evidence-0"},
	})

	var capErr *CaptureError
	if !errors.As(err, &capErr) {
		t.Fatalf("error = %v, want CaptureError", err)
	}
	if completed {
		t.Error("completion callback fired on failure")
	}
	if lastState != StateFailed {
		t.Errorf("final state = %v, want failed", lastState)
	}

	// No partial file.
	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatalf("read dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("output dir not empty after failure: %v", entries)
	}

	// No further sections captured after the failing one.
	if len(session.captured) != 1 {
		t.Errorf("captured %v after cover failure", session.captured)
	}
}

func TestAssemblyFailureAbortsExport(t *testing.T) {
	dir := t.TempDir()
	writer := &fakeWriter{bytesErr: errors.New("stream corrupt")}
	session := &fakeSession{readyAfter: 0}
	e := newTestExporter(t, dir, newFakeClock(), writer, nil)

	_, err := e.ExportGlobal(context.Background(), GlobalRequest{Session: session, RootSelector: "#root"})

	var asmErr *AssemblyError
	if !errors.As(err, &asmErr) {
		t.Fatalf("error = %v, want AssemblyError", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("output dir not empty after assembly failure: %v", entries)
	}
}

func TestSingleFlightRejectsOverlap(t *testing.T) {
	gate := make(chan struct{})
	session := &fakeSession{readyAfter: 0, gate: gate}
	e := newTestExporter(t, t.TempDir(), newFakeClock(), &fakeWriter{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := e.ExportGlobal(context.Background(), GlobalRequest{Session: session, RootSelector: "#root"})
		done <- err
	}()

	// Wait until the first export holds the guard inside CaptureNode.
	for !e.InFlight() {
		time.Sleep(time.Millisecond)
	}

	_, err := e.ExportGlobal(context.Background(), GlobalRequest{Session: session, RootSelector: "#root"})
	if !errors.Is(err, ErrExportInFlight) {
		t.Errorf("overlapping export error = %v, want ErrExportInFlight", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Errorf("first export failed: %v", err)
	}
}

func TestReadinessTimeoutIsSoft(t *testing.T) {
	clk := newFakeClock()
	session := &fakeSession{readyAfter: -1} // never ready
	e := newTestExporter(t, t.TempDir(), clk, &fakeWriter{}, nil)

	res, err := e.ExportGlobal(context.Background(), GlobalRequest{Session: session, RootSelector: "#root"})
	if err != nil {
		t.Fatalf("export should proceed past the readiness bound: %v", err)
	}
	if res.Pages == 0 {
		t.Error("no pages produced")
	}

	// 2s bound at 100ms polls: around 21 polls, never unbounded.
	if session.polls > 25 {
		t.Errorf("%d readiness polls, poll loop not bounded", session.polls)
	}
}

func TestCancelledContextAbortsWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session := &fakeSession{readyAfter: -1}
	e := newTestExporter(t, t.TempDir(), newFakeClock(), &fakeWriter{}, nil)

	_, err := e.ExportGlobal(ctx, GlobalRequest{Session: session, RootSelector: "#root"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
