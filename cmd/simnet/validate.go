package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var manifest string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and build the network without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			extra := map[string]interface{}{}
			if cmd.Flags().Changed("manifest") {
				extra["simulation.manifest"] = manifest
			}
			cfg, _, err := opts.load(extra)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			req, err := requestFromConfig(cfg)
			if err != nil {
				return err
			}
			sum, err := rt.service.Validate(req)
			if err != nil {
				return err
			}

			w := opts.stdout
			fmt.Fprintf(w, "network %s is valid\n", sum.Name)
			fmt.Fprintf(w, "modules: %s\n", strings.Join(sum.Modules, ", "))
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SIGNAL\tTYPE\tDEPTH\tWRITERS\tREADERS")
			for _, s := range sum.Signals {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", s.Name, s.Type, s.Stats.Depth, s.Stats.Publishers, s.Stats.Subscribers)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&manifest, "manifest", "m", "", "network file to check; empty checks the sorter")
	return cmd
}

