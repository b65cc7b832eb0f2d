package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"gokin/machine/kinematics"
)

func checkConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the machine config and print the resolved rails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, _, err := opts.cfg.BuildSim(opts.logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			hcfg := ctl.Orchestrator().Config()
			fmt.Fprintf(out, "kinematics: %s\n", ctl.Kind())
			fmt.Fprintf(out, "homing: %s (overtravel %g, timeout %s)\n", hcfg.Protocol, hcfg.Overtravel, hcfg.Timeout)
			for _, r := range ctl.Rails() {
				min, max := r.Range()
				line := fmt.Sprintf("rail %s: %s range [%g, %g]", r.Name(), r.OperatingMode(), min, max)
				if r.Auxiliary() {
					line += " auxiliary"
				} else {
					info := r.HomingInfo()
					line += fmt.Sprintf(" endstop %g (%s)", info.PositionEndstop, info.Direction)
				}
				fmt.Fprintln(out, line)
			}
			if ctl.Kind() != kinematics.KindLinear {
				home := ctl.HomeTarget()
				fmt.Fprintf(out, "home: x=%.3f y=%.3f z=%.3f\n", home.X(), home.Y(), home.Z())
			}
			fmt.Fprintln(out, "ok")
			return nil
		},
	}
}
