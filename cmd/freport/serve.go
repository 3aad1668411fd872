package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"freport/internal/store"
	"freport/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the report views over HTTP",
	Long: `Opens the report store and serves the HTML views the export
pipeline captures: per-report pages under /reports/{id} and the
aggregate summary under /global.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	renderer, err := newRenderer()
	if err != nil {
		return err
	}
	defer renderer.Close()

	srv := web.NewServer(cfg.Server.Addr, st, renderer)
	logger.Info("serving report views",
		zap.String("addr", cfg.Server.Addr),
		zap.Bool("dev_mode", cfg.Server.DevMode))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Run)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newRenderer picks embedded templates or, in dev mode, live files
// under the configured template directory.
func newRenderer() (*web.Renderer, error) {
	if !cfg.Server.DevMode {
		return web.NewRenderer()
	}
	if err := web.WriteDevTemplates(cfg.Server.TemplateDir); err != nil {
		return nil, err
	}
	return web.NewDevRenderer(cfg.Server.TemplateDir)
}
