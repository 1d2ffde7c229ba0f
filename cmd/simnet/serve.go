package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goclaw/simnet/pkg/api"
	"github.com/goclaw/simnet/pkg/simulation"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API until interrupted",
		Long: `serve exposes the HTTP API for submitting and inspecting runs, the
websocket event stream at /ws, and the Prometheus endpoint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, _, err := opts.load(nil)
			if err != nil {
				return err
			}
			rt, err := newRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			defaults, err := requestFromConfig(cfg)
			if err != nil {
				return err
			}
			srv, errCh := startServer(ctx, rt, defaults)
			select {
			case <-ctx.Done():
			case err = <-errCh:
			}
			if stopErr := srv.stop(); stopErr != nil && err == nil {
				err = stopErr
			}
			return err
		},
	}
}

// server is a running API server plus its websocket relay and optional
// metrics listener.
type server struct {
	rt     *runtime
	http   *api.HTTPServer
	cancel context.CancelFunc
}

// startServer starts serving in the background. The returned channel
// receives the first listener failure.
func startServer(ctx context.Context, rt *runtime, defaults simulation.Request) (*server, <-chan error) {
	ctx, cancel := context.WithCancel(ctx)
	h := rt.handlers(defaults)
	s := &server{rt: rt, http: api.NewHTTPServer(rt.cfg, rt.log, h), cancel: cancel}
	errCh := make(chan error, 2)

	go h.WebSocket.Forward(ctx, rt.events)
	go func() {
		if err := s.http.Start(); err != nil {
			errCh <- err
		}
	}()
	if rt.metrics.Enabled() && separateMetricsPort(rt.cfg) {
		go func() {
			rt.log.Info("Starting metrics server", "port", rt.cfg.Metrics.Port, "path", rt.cfg.Metrics.Path)
			if err := rt.metrics.StartServer(ctx, rt.cfg.Metrics.Port, rt.cfg.Metrics.Path); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}
	return s, errCh
}

// stop drains the HTTP server within the configured shutdown timeout.
func (s *server) stop() error {
	defer s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), s.rt.cfg.Server.HTTP.ShutdownTimeout)
	defer cancel()
	err := s.http.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		s.rt.log.Warn("HTTP server did not drain in time")
	}
	return err
}

func closeRuntime(rt *runtime) {
	ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.HTTP.ShutdownTimeout)
	defer cancel()
	if err := rt.Close(ctx); err != nil {
		rt.log.Error("shutdown finished with errors", "error", err)
	}
}
