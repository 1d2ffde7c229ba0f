// Package simulation turns run requests into built networks and hands them
// to the engine. It is the layer the CLI and the HTTP API share: it resolves
// the network file, applies the sorter parameters, and attaches a trace
// recorder to every signal when tracing is requested.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goclaw/simnet/pkg/engine"
	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/sorter"
	"github.com/goclaw/simnet/pkg/storage"
	"github.com/goclaw/simnet/pkg/trace"
	"github.com/goclaw/simnet/pkg/wiring"
)

// ErrInvalidRequest marks requests that cannot be turned into a network.
var ErrInvalidRequest = errors.New("invalid run request")

// Request describes one simulation run.
type Request struct {
	// Manifest is a network file using the sorter's module kinds. Empty
	// selects the built-in sorter network.
	Manifest []byte
	// Format is the manifest format: yaml, yml or toml. Defaults to yaml.
	Format string
	// Sorter parameterizes the generator.
	Sorter sorter.Config
	// FanIn allows several writers per signal.
	FanIn bool
	// Trace records every accepted signal write.
	Trace bool
	// Metadata is persisted with the run.
	Metadata map[string]string
	// FailFast and Timeout override the engine defaults when set.
	FailFast *bool
	Timeout  *time.Duration
}

// Outcome is the result of a synchronous run.
type Outcome struct {
	Result *engine.RunResult
	Report *sorter.Report
	// Recorded and Dropped count trace events; both are zero when the run
	// was not traced.
	Recorded uint64
	Dropped  uint64
}

// Service builds networks from requests and runs them on an engine.
type Service struct {
	engine *engine.Engine
	logger logger.Logger
	trace  trace.Config
	sinks  []trace.Sink
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger handed to builders and modules.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTraceConfig sets the recorder configuration used for traced runs.
func WithTraceConfig(cfg trace.Config) Option {
	return func(s *Service) { s.trace = cfg }
}

// WithSinks adds trace sinks shared by every traced run. The engine's
// storage is always a sink.
func WithSinks(sinks ...trace.Sink) Option {
	return func(s *Service) {
		for _, sink := range sinks {
			if sink != nil {
				s.sinks = append(s.sinks, sink)
			}
		}
	}
}

// NewService creates a service running networks on eng.
func NewService(eng *engine.Engine, opts ...Option) *Service {
	s := &Service{
		engine: eng,
		logger: logger.Global(),
		trace:  trace.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the engine runs are executed on.
func (s *Service) Engine() *engine.Engine { return s.engine }

// Summary describes a network that built successfully.
type Summary struct {
	Name    string
	Modules []string
	Signals []wiring.SignalInfo
}

// Validate parses and builds the network of req, then discards it.
func (s *Service) Validate(req Request) (*Summary, error) {
	p, err := s.prepare(req, "")
	if err != nil {
		return nil, err
	}
	defer p.net.Close()

	sum := &Summary{Name: p.net.Name, Signals: p.net.Signals()}
	for _, u := range p.net.Units {
		sum.Modules = append(sum.Modules, u.Module)
	}
	return sum, nil
}

// Run executes req and blocks until the network terminates.
func (s *Service) Run(ctx context.Context, req Request) (*Outcome, error) {
	runID := engine.NewRunID()
	p, err := s.prepare(req, runID)
	if err != nil {
		return nil, err
	}
	res, runErr := s.engine.Run(ctx, p.net, s.runOptions(p, runID, req)...)
	if res == nil {
		p.net.Close()
		p.closeRecorder(s.logger)
	}
	out := &Outcome{Result: res, Report: p.report}
	if p.recorder != nil {
		out.Recorded, out.Dropped = p.recorder.Recorded(), p.recorder.Dropped()
	}
	return out, runErr
}

// Submit starts req in the background and returns its run ID.
func (s *Service) Submit(ctx context.Context, req Request) (string, error) {
	runID := engine.NewRunID()
	p, err := s.prepare(req, runID)
	if err != nil {
		return "", err
	}
	id, err := s.engine.Submit(ctx, p.net, s.runOptions(p, runID, req)...)
	if err != nil {
		p.net.Close()
		p.closeRecorder(s.logger)
		return "", err
	}
	return id, nil
}

// Cancel cancels a submitted run.
func (s *Service) Cancel(runID string) error { return s.engine.Cancel(runID) }

// Accepting reports whether new runs are taken.
func (s *Service) Accepting() bool { return s.engine.Accepting() }

// GetRun returns a persisted run.
func (s *Service) GetRun(ctx context.Context, id string) (*storage.RunState, error) {
	return s.engine.GetRun(ctx, id)
}

// ListRuns lists persisted runs.
func (s *Service) ListRuns(ctx context.Context, filter *storage.RunFilter) ([]*storage.RunState, int, error) {
	return s.engine.ListRuns(ctx, filter)
}

// ListTrace lists the recorded trace of a run.
func (s *Service) ListTrace(ctx context.Context, runID string, filter *storage.TraceFilter) ([]*storage.TraceEvent, error) {
	return s.engine.ListTrace(ctx, runID, filter)
}

type prepared struct {
	net      *wiring.Network
	report   *sorter.Report
	recorder *trace.Recorder
}

func (s *Service) prepare(req Request, runID string) (*prepared, error) {
	f, err := s.file(req)
	if err != nil {
		return nil, err
	}

	p := &prepared{report: &sorter.Report{}}
	opts := []wiring.Option{wiring.WithLogger(s.logger)}
	if req.FanIn {
		opts = append(opts, wiring.WithFanIn(true))
	}
	if req.Trace && runID != "" {
		sinks := append([]trace.Sink{trace.NewStorageSink(s.engine.Storage())}, s.sinks...)
		p.recorder = trace.NewRecorder(runID, s.trace, s.logger, sinks...)
		opts = append(opts, wiring.WithObserver(p.recorder))
	}

	cfg := req.Sorter
	if len(cfg.Addresses) == 0 {
		def := sorter.DefaultConfig()
		cfg.Addresses = def.Addresses
	}
	if cfg.PayloadSize <= 0 {
		cfg.PayloadSize = sorter.DefaultConfig().PayloadSize
	}

	b, err := sorter.Builder(f, cfg, p.report, s.logger, opts...)
	if err != nil {
		p.closeRecorder(s.logger)
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	p.net, err = b.Build()
	if err != nil {
		p.closeRecorder(s.logger)
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return p, nil
}

func (s *Service) file(req Request) (*wiring.File, error) {
	data, format := req.Manifest, strings.ToLower(strings.TrimSpace(req.Format))
	if len(data) == 0 {
		data, format = sorter.Manifest(), "yaml"
	}
	if format == "" {
		format = "yaml"
	}
	f, err := wiring.ParseFile(data, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return f, nil
}

func (s *Service) runOptions(p *prepared, runID string, req Request) []engine.RunOption {
	md := map[string]string{"network": p.net.Name}
	if p.recorder != nil {
		md["trace"] = "true"
	}
	for k, v := range req.Metadata {
		md[k] = v
	}
	opts := []engine.RunOption{engine.WithRunID(runID), engine.WithMetadata(md)}
	if req.FailFast != nil {
		opts = append(opts, engine.WithFailFast(*req.FailFast))
	}
	if req.Timeout != nil {
		opts = append(opts, engine.WithTimeout(*req.Timeout))
	}
	if p.recorder != nil {
		rec := p.recorder
		// Flush the trace before the final run state is persisted.
		opts = append(opts, engine.WithOnFinish(func(res *engine.RunResult) {
			if err := rec.Close(); err != nil {
				s.logger.Warn("trace sinks reported errors", "run_id", res.ID, "error", err)
			}
		}))
	}
	return opts
}

func (p *prepared) closeRecorder(log logger.Logger) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Close(); err != nil {
		log.Warn("closing unused trace recorder", "run_id", p.recorder.RunID(), "error", err)
	}
}
