package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"gokin/machine"
	"gokin/machine/config"
	"gokin/machine/kinematics"
)

func solveCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Convert between actuator and tool coordinates for the configured geometry",
	}
	cmd.AddCommand(&cobra.Command{
		Use:     "forward POSITION...",
		Short:   "Tool position for one position per rail, in slot order",
		Example: "  gokin-host solve forward --kinematics twolink -- -0.5 1.2",
		RunE: func(cmd *cobra.Command, args []string) error {
			solver, names, err := geometry(opts.cfg)
			if err != nil {
				return err
			}
			if len(args) != solver.Slots() {
				return fmt.Errorf("%s needs %d positions (%v), got %d", solver.Kind(), solver.Slots(), names, len(args))
			}
			values, err := parseFloats(args)
			if err != nil {
				return err
			}
			pos, err := solver.Forward(values)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "x=%.4f y=%.4f z=%.4f e=%.4f\n", pos.X(), pos.Y(), pos.Z(), pos.E())
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "inverse X Y Z [E]",
		Short: "Rail positions for a tool position",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			solver, names, err := geometry(opts.cfg)
			if err != nil {
				return err
			}
			values, err := parseFloats(args)
			if err != nil {
				return err
			}
			var pos machine.Position
			copy(pos[:], values)
			actuators, err := solver.Inverse(pos)
			if err != nil {
				return err
			}
			for i, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%.6f\n", name, actuators[i])
			}
			return nil
		},
	})
	return cmd
}

// geometry returns the solver and the rail names in slot order
func geometry(cfg *config.Config) (kinematics.Solver, []string, error) {
	ccfg, err := cfg.ControllerConfig()
	if err != nil {
		return nil, nil, err
	}
	solver, err := ccfg.Rails[0].Mode.Solver()
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, len(ccfg.Rails))
	for i, rc := range ccfg.Rails {
		names[i] = rc.Name
	}
	return solver, names, nil
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", a)
		}
		out[i] = v
	}
	return out, nil
}
