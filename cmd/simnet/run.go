package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/goclaw/simnet/config"
	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/simulation"
)

type runFlags struct {
	manifest    string
	addresses   []uint
	payloadSize int
	seed        int64
	depth       int
	fanIn       bool
	failFast    bool
	timeout     time.Duration
	trace       bool
	watch       bool
	serve       bool
	json        bool
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a network until it winds down",
		Long: `run builds the network from the manifest (the sorter by default), runs it
to completion and prints a report. The command fails when a module fails or
a packet comes back altered.

With --watch the network is re-run whenever the configuration file or the
manifest changes. With --serve the API stays up after the run.`,
		Example: `  simnet run
  simnet run --addresses 2,1,0 --payload-size 4 --trace
  simnet run --manifest network.yaml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNetwork(cmd, opts, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.manifest, "manifest", "m", "", "network file (yaml or toml); empty runs the sorter")
	fl.UintSliceVar(&f.addresses, "addresses", nil, "sorter packet addresses, in send order")
	fl.IntVar(&f.payloadSize, "payload-size", 0, "payload words per sorter packet")
	fl.Int64Var(&f.seed, "seed", 0, "payload generator seed")
	fl.IntVar(&f.depth, "depth", 0, "ring depth of every signal")
	fl.BoolVar(&f.fanIn, "fan-in", false, "allow several writers per signal")
	fl.BoolVar(&f.failFast, "fail-fast", false, "cancel the run on the first module failure")
	fl.DurationVar(&f.timeout, "timeout", 0, "bound the run; 0 means no limit")
	fl.BoolVar(&f.trace, "trace", false, "record every signal write")
	fl.BoolVarP(&f.watch, "watch", "w", false, "re-run when the config or manifest changes")
	fl.BoolVar(&f.serve, "serve", false, "keep the API up after the run")
	fl.BoolVar(&f.json, "json", false, "print the report as JSON")
	return cmd
}

// overrides maps the flags the user actually set onto config keys.
func (f *runFlags) overrides(cmd *cobra.Command) map[string]interface{} {
	out := make(map[string]interface{})
	changed := cmd.Flags().Changed
	if changed("manifest") {
		path := f.manifest
		if abs, err := filepath.Abs(path); err == nil && path != "" {
			path = abs
		}
		out["simulation.manifest"] = path
	}
	if changed("addresses") {
		addrs := make([]interface{}, len(f.addresses))
		for i, a := range f.addresses {
			addrs[i] = uint32(a)
		}
		out["simulation.addresses"] = addrs
	}
	if changed("payload-size") {
		out["simulation.payload_size"] = f.payloadSize
	}
	if changed("seed") {
		out["simulation.seed"] = f.seed
	}
	if changed("depth") {
		out["simulation.depth"] = f.depth
	}
	if changed("fan-in") {
		out["simulation.fan_in"] = f.fanIn
	}
	if changed("fail-fast") {
		out["simulation.fail_fast"] = f.failFast
	}
	if changed("timeout") {
		out["simulation.timeout"] = f.timeout.String()
	}
	if changed("trace") {
		out["trace.enabled"] = f.trace
	}
	return out
}

func runNetwork(cmd *cobra.Command, opts *rootOptions, f *runFlags) error {
	ctx := cmd.Context()
	cfg, overrides, err := opts.load(f.overrides(cmd))
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRuntime(rt)

	req, err := requestFromConfig(cfg)
	if err != nil {
		return err
	}

	var srv *server
	var srvErr <-chan error
	if f.serve {
		srv, srvErr = startServer(ctx, rt, req)
		defer func() {
			if err := srv.stop(); err != nil {
				rt.log.Warn("stopping server", "error", err)
			}
		}()
	}

	ok, err := runOnce(ctx, rt, req, opts.stdout, f.json)
	if err != nil && !f.watch && !f.serve {
		return err
	}
	if !f.watch && !f.serve {
		if !ok {
			return errReported
		}
		return nil
	}

	var changes <-chan *config.Config
	if f.watch {
		changes, err = watch(ctx, opts.configPath, cfg.Simulation.Manifest, overrides, rt.log)
		if err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-srvErr:
			return err
		case next, open := <-changes:
			if !open {
				return nil
			}
			rt.log.SetLevel(logLevel(next))
			req, err := requestFromConfig(next)
			if err != nil {
				rt.log.Error("reloaded configuration is unusable", "error", err)
				continue
			}
			if _, err := runOnce(ctx, rt, req, opts.stdout, f.json); err != nil {
				rt.log.Error("run failed", "error", err)
			}
		}
	}
}

// runOnce runs req and writes its report. ok is false when the run did not
// complete cleanly.
func runOnce(ctx context.Context, rt *runtime, req simulation.Request, w io.Writer, asJSON bool) (ok bool, err error) {
	out, err := rt.service.Run(ctx, req)
	if out == nil || out.Result == nil {
		if err == nil {
			err = errors.New("run produced no result")
		}
		return false, err
	}

	rep := newRunReport(out)
	if asJSON {
		if werr := rep.writeJSON(w); werr != nil {
			return false, werr
		}
	} else if werr := rep.writeText(w); werr != nil {
		return false, werr
	}
	if err != nil {
		rt.log.Error("run failed", "run_id", rep.ID, "error", err)
		return false, errReported
	}
	return rep.ok(), nil
}

// watch reloads the configuration whenever it or the manifest changes.
func watch(ctx context.Context, configPath, manifest string, overrides map[string]interface{}, log logger.Logger) (<-chan *config.Config, error) {
	opts := []config.WatcherOption{
		config.WithWatcherLogger(log),
		config.WithOverrides(overrides),
	}
	if manifest != "" {
		opts = append(opts, config.WithExtraFiles(manifest))
	}
	w, err := config.NewWatcher(configPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}

	changes := make(chan *config.Config, 1)
	w.OnChange(func(cfg *config.Config) {
		// Only the latest configuration matters.
		select {
		case <-changes:
		default:
		}
		select {
		case changes <- cfg:
		default:
		}
	})
	go func() {
		defer close(changes)
		if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("config watcher stopped", "error", err)
		}
		_ = w.Stop()
	}()
	log.Info("watching for changes", "paths", w.Paths())
	return changes, nil
}

func logLevel(cfg *config.Config) logger.Level {
	if cfg.App.Debug {
		return logger.DebugLevel
	}
	return logger.ParseLevel(cfg.Log.Level)
}
