package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/goclaw/simnet/pkg/engine"
	"github.com/goclaw/simnet/pkg/signal"
	"github.com/goclaw/simnet/pkg/simulation"
)

type moduleReport struct {
	Module   string `json:"module"`
	State    string `json:"state"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

type runReport struct {
	ID         string         `json:"id"`
	Network    string         `json:"network"`
	Status     string         `json:"status"`
	Duration   string         `json:"duration"`
	Sent       int            `json:"sent"`
	Received   int            `json:"received"`
	Mismatches []int          `json:"mismatches,omitempty"`
	Recorded   uint64         `json:"trace_recorded"`
	Dropped    uint64         `json:"trace_dropped"`
	Modules    []moduleReport `json:"modules"`
	Signals    []signal.Stats `json:"signals"`
}

// ok reports whether the run completed and every packet came back intact.
func (r *runReport) ok() bool {
	return r.Status == engine.RunStatusCompleted && len(r.Mismatches) == 0
}

func newRunReport(out *simulation.Outcome) *runReport {
	res := out.Result
	r := &runReport{
		ID:       res.ID,
		Network:  res.Name,
		Status:   res.Status,
		Duration: res.Duration().Round(time.Microsecond).String(),
		Recorded: out.Recorded,
		Dropped:  out.Dropped,
	}
	if out.Report != nil {
		r.Sent = len(out.Report.Sent())
		r.Received = len(out.Report.Received())
		r.Mismatches = out.Report.Mismatches()
	}
	for name, m := range res.Modules {
		mr := moduleReport{
			Module:   name,
			State:    m.State.String(),
			Duration: m.Duration().Round(time.Microsecond).String(),
		}
		if m.Error != nil {
			mr.Error = m.Error.Error()
		}
		r.Modules = append(r.Modules, mr)
	}
	sort.Slice(r.Modules, func(i, j int) bool { return r.Modules[i].Module < r.Modules[j].Module })
	for _, s := range res.Signals {
		r.Signals = append(r.Signals, s.Stats)
	}
	return r
}

func (r *runReport) writeJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func (r *runReport) writeText(w io.Writer) error {
	fmt.Fprintf(w, "run %s (%s): %s in %s\n", r.ID, r.Network, r.Status, r.Duration)
	fmt.Fprintf(w, "packets: sent %d, received %d, mismatched %d\n", r.Sent, r.Received, len(r.Mismatches))
	if r.Recorded > 0 || r.Dropped > 0 {
		fmt.Fprintf(w, "trace: recorded %d, dropped %d\n", r.Recorded, r.Dropped)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nMODULE\tSTATE\tDURATION\tERROR")
	for _, m := range r.Modules {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Module, m.State, m.Duration, m.Error)
	}
	fmt.Fprintln(tw, "\nSIGNAL\tDEPTH\tWRITES\tREJECTED\tLAGGED\tCLOSED")
	for _, s := range r.Signals {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%t\n", s.Name, s.Depth, s.Writes, s.Rejected, s.Lagged, s.Closed)
	}
	return tw.Flush()
}
