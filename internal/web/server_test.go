package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"freport/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "reports.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	renderer, err := NewRenderer()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	return NewServer("127.0.0.1:0", st, renderer), st
}

func seedFullReport(t *testing.T, st *store.Store) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := st.CreateReport(ctx, store.Report{
		Folio:       "F-0100",
		Client:      "Acme Corp",
		Site:        "Plant 3",
		Technician:  "J. Soto",
		ServiceDate: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := st.AddEvidence(ctx, store.Evidence{
			ReportID:  id,
			Caption:   fmt.Sprintf("photo %d", i),
			ImagePath: fmt.Sprintf("/static/ev%d.png", i),
		}); err != nil {
			t.Fatalf("add evidence: %v", err)
		}
	}
	if _, err := st.AddExpense(ctx, store.Expense{ReportID: id, Concept: "fuel", AmountCents: 45050}); err != nil {
		t.Fatalf("add expense: %v", err)
	}
	return id
}

func get(t *testing.T, h http.Handler, path string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	res := rec.Result()
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	return res, string(body)
}

func TestReportViewEmitsSectionSelectors(t *testing.T) {
	srv, st := newTestServer(t)
	id := seedFullReport(t, st)

	res, body := get(t, srv.Handler(), fmt.Sprintf("/reports/%d", id))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}

	// The export selectors depend on these exact ids and classes.
	for _, want := range []string{
		`id="report-cover"`,
		`id="evidence-0"`,
		`id="evidence-1"`,
		`id="evidence-2"`,
		`id="expense-0"`,
		`class="evidence-section section"`,
		`class="expense-section section"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("report view missing %s", want)
		}
	}
	if strings.Contains(body, "evidence-3") {
		t.Error("report view emitted a section beyond the evidence list")
	}
}

func TestReportViewOrdersEvidences(t *testing.T) {
	srv, st := newTestServer(t)
	id := seedFullReport(t, st)

	_, body := get(t, srv.Handler(), fmt.Sprintf("/reports/%d", id))

	re := regexp.MustCompile(`photo (\d)`)
	var got []string
	for _, m := range re.FindAllStringSubmatch(body, -1) {
		got = append(got, m[1])
	}
	want := []string{"0", "1", "2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("evidence order mismatch (-want +got):\n%s", diff)
	}
}

func TestReportViewFormatsMoney(t *testing.T) {
	srv, st := newTestServer(t)
	id := seedFullReport(t, st)

	_, body := get(t, srv.Handler(), fmt.Sprintf("/reports/%d", id))
	if !strings.Contains(body, "$450.50") {
		t.Errorf("expense amount not formatted, body lacks $450.50")
	}
}

func TestReportViewNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	res, _ := get(t, srv.Handler(), "/reports/999")
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", res.StatusCode)
	}
}

func TestReportViewBadID(t *testing.T) {
	srv, _ := newTestServer(t)
	res, _ := get(t, srv.Handler(), "/reports/abc")
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", res.StatusCode)
	}
}

func TestGlobalViewAggregates(t *testing.T) {
	srv, st := newTestServer(t)
	seedFullReport(t, st)

	res, body := get(t, srv.Handler(), "/global")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if !strings.Contains(body, `id="global-report"`) {
		t.Error("global view missing #global-report root")
	}
	for _, want := range []string{"J. Soto", "F-0100", "$450.50"} {
		if !strings.Contains(body, want) {
			t.Errorf("global view missing %q", want)
		}
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	res, body := get(t, srv.Handler(), "/healthz")
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
	if strings.TrimSpace(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
}

func TestDevRendererReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	if err := WriteDevTemplates(dir); err != nil {
		t.Fatalf("write dev templates: %v", err)
	}

	renderer, err := NewDevRenderer(dir)
	if err != nil {
		t.Fatalf("new dev renderer: %v", err)
	}
	defer renderer.Close()

	marker := "RELOADED-MARKER"
	path := filepath.Join(dir, "global.html")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	if err := os.WriteFile(path, []byte(strings.Replace(string(data), "Informe Global de Servicios", marker, 1)), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		var sb strings.Builder
		err := renderer.Render(&sb, "global.html", globalView{Summary: &store.Summary{CountsByStatus: map[string]int{}}})
		if err == nil && strings.Contains(sb.String(), marker) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("renderer did not pick up template change")
}
