package main

import (
	"errors"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goclaw/simnet/config"
)

// errReported marks failures that were already written to the output.
var errReported = errors.New("reported")

type rootOptions struct {
	configPath string
	logLevel   string
	debug      bool
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:   "simnet",
		Short: "simnet runs discrete-event process networks",
		Long: `simnet wires modules together through typed signals and runs every module
in its own goroutine until the network winds down on its own.

Without a manifest it runs the built-in sorter network: a packet generator,
an interconnect, and three coprocessors.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "configuration file (yaml or json)")
	pf.StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	pf.BoolVar(&opts.debug, "debug", false, "enable debug mode")

	cmd.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newServeCmd(opts),
		newVersionCmd(opts),
	)
	return cmd
}

// overrides returns the config keys set by persistent flags.
func (o *rootOptions) overrides() map[string]interface{} {
	out := make(map[string]interface{})
	if o.logLevel != "" {
		out["log.level"] = strings.ToLower(o.logLevel)
	}
	if o.debug {
		out["app.debug"] = true
	}
	return out
}

// load reads the configuration with the persistent flags plus extra applied
// on top.
func (o *rootOptions) load(extra map[string]interface{}) (*config.Config, map[string]interface{}, error) {
	overrides := o.overrides()
	for k, v := range extra {
		overrides[k] = v
	}
	cfg, err := config.Load(o.configPath, overrides)
	if err != nil {
		return nil, nil, err
	}
	return cfg, overrides, nil
}
