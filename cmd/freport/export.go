package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"freport/internal/browser"
	"freport/internal/capture"
	"freport/internal/export"
	"freport/internal/pdf"
	"freport/internal/store"
	"freport/internal/web"
)

var (
	exportURL       string
	includeExpenses bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export report views to PDF",
}

var exportGlobalCmd = &cobra.Command{
	Use:   "global",
	Short: "Export the aggregate summary as a paginated PDF",
	Long: `Captures the global summary view in one pass and splits the tall
capture across as many A4 pages as it needs.`,
	RunE: runExportGlobal,
}

var exportReportCmd = &cobra.Command{
	Use:   "report [id]",
	Short: "Export one report as a PDF, one section per page",
	Long: `Builds a per-report document: the cover on page one, then each
evidence on its own page, then each expense when --include-expenses is
set. Sections are fit to the page, never split.`,
	Args: cobra.ExactArgs(1),
	RunE: runExportReport,
}

func init() {
	exportCmd.PersistentFlags().StringVar(&exportURL, "url", "", "Base URL of a running freport server (default: serve in-process)")
	exportReportCmd.Flags().BoolVar(&includeExpenses, "include-expenses", false, "Append expense pages after the evidences")

	exportCmd.AddCommand(exportGlobalCmd)
	exportCmd.AddCommand(exportReportCmd)
}

// exportEnv holds everything a one-shot export needs: the store, a view
// server to capture from, and a browser session on the target view.
type exportEnv struct {
	store   *store.Store
	manager *browser.Manager
	session *browser.PageSession
	baseURL string

	shutdown []func()
}

func (e *exportEnv) close() {
	for i := len(e.shutdown) - 1; i >= 0; i-- {
		e.shutdown[i]()
	}
}

// openExportEnv opens the store, points at a running server (or starts
// one in-process on a loopback port) and navigates a fresh browser page
// to viewPath.
func openExportEnv(ctx context.Context, viewPath string) (*exportEnv, error) {
	env := &exportEnv{}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	env.store = st
	env.shutdown = append(env.shutdown, func() { st.Close() })

	env.baseURL = exportURL
	if env.baseURL == "" {
		renderer, err := web.NewRenderer()
		if err != nil {
			env.close()
			return nil, err
		}
		srv := web.NewServer("127.0.0.1:0", st, renderer)
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			env.close()
			return nil, fmt.Errorf("listen for export server: %w", err)
		}
		httpSrv := &http.Server{Handler: srv.Handler()}
		go httpSrv.Serve(ln)
		env.shutdown = append(env.shutdown, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			httpSrv.Shutdown(shutdownCtx)
		})
		env.baseURL = "http://" + ln.Addr().String()
		logger.Debug("in-process view server started", zap.String("url", env.baseURL))
	}

	manager := browser.NewManager(cfg.Browser)
	if err := manager.Start(ctx); err != nil {
		env.close()
		return nil, err
	}
	env.manager = manager
	env.shutdown = append(env.shutdown, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.Shutdown(shutdownCtx)
	})

	session, err := manager.OpenPage(ctx, env.baseURL+viewPath)
	if err != nil {
		env.close()
		return nil, err
	}
	env.session = session
	env.shutdown = append(env.shutdown, func() { session.Close() })
	return env, nil
}

func newExporter() (*export.Exporter, error) {
	return export.New(export.Options{
		Format:           capture.A4Portrait(),
		OutputDir:        cfg.Export.OutputDir,
		Scale:            cfg.Export.Scale,
		SettleDelay:      time.Duration(cfg.Export.SettleMs) * time.Millisecond,
		ReadinessTimeout: time.Duration(cfg.Export.ReadinessTimeoutMs) * time.Millisecond,
		PollInterval:     time.Duration(cfg.Export.PollIntervalMs) * time.Millisecond,
		NewWriter: func(format capture.PageFormat) (capture.DocumentWriter, error) {
			return pdf.NewWriter(format)
		},
	})
}

func runExportGlobal(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	env, err := openExportEnv(ctx, "/global")
	if err != nil {
		return err
	}
	defer env.close()

	exporter, err := newExporter()
	if err != nil {
		return err
	}

	res, err := exporter.ExportGlobal(ctx, export.GlobalRequest{
		Session:      env.session,
		RootSelector: cfg.Export.Selectors.GlobalRoot,
	})
	if err != nil {
		return err
	}

	logger.Info("global export complete",
		zap.String("path", res.Path),
		zap.Int("pages", res.Pages),
		zap.Duration("duration", res.Duration))
	fmt.Println(res.Path)
	return nil
}

func runExportReport(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid report id %q", args[0])
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	env, err := openExportEnv(ctx, fmt.Sprintf("/reports/%d", id))
	if err != nil {
		return err
	}
	defer env.close()

	report, err := env.store.GetReport(ctx, id)
	if err != nil {
		return err
	}

	exporter, err := newExporter()
	if err != nil {
		return err
	}

	res, err := exporter.ExportReport(ctx, export.ReportRequest{
		Session:           env.session,
		ReportID:          id,
		CoverSelector:     cfg.Export.Selectors.Cover,
		EvidenceSelectors: indexedSelectors(cfg.Export.Selectors.EvidencePrefix, len(report.Evidences)),
		ExpenseSelectors:  indexedSelectors(cfg.Export.Selectors.ExpensePrefix, len(report.Expenses)),
		IncludeExpenses:   includeExpenses || cfg.Export.IncludeExpenses,
	})
	if err != nil {
		return err
	}

	logger.Info("report export complete",
		zap.Int64("report", id),
		zap.String("path", res.Path),
		zap.Int("pages", res.Pages),
		zap.Duration("duration", res.Duration))
	fmt.Println(res.Path)
	return nil
}

// indexedSelectors expands a prefix into the per-section selectors the
// view emits: "#evidence-" with n=3 yields #evidence-0..#evidence-2.
func indexedSelectors(prefix string, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("%s%d", prefix, i))
	}
	return out
}
