package commands

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gokin/host/serial"
	"gokin/host/status"
	"gokin/machine/gcode"
)

const (
	defaultFeedRate = 25.0 // Units/s until the first F parameter
	publishInterval = 250 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

// errInputClosed ends the run when the G-code stream reaches EOF
var errInputClosed = errors.New("g-code input closed")

func runCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller on the simulated machine",
		Long: `Run the controller on the simulated machine. G-code is read from the
serial device given by --device, or from stdin when none is set; replies
go back the same way. The status server publishes the kinematics state
over HTTP and a websocket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("device", "", "serial device carrying G-code (default stdin/stdout)")
	cmd.Flags().Int("baud", 250000, "serial baud rate")
	cmd.Flags().String("listen", ":7125", "status server address (empty disables it)")
	cmd.Flags().Float64("time-scale", 0, "wall-clock seconds per simulated second")
	return cmd
}

func run(ctx context.Context, opts *options, in io.Reader, out io.Writer) error {
	cfg, logger := opts.cfg, opts.logger
	ctl, _, err := cfg.BuildSim(logger)
	if err != nil {
		return err
	}

	r, w := in, out
	if cfg.Host.Device != "" {
		port, err := serial.Open(&serial.Config{Device: cfg.Host.Device, Baud: cfg.Host.Baud})
		if err != nil {
			return err
		}
		defer port.Close()
		r, w = port, port
		logger.Info("serial link open", "device", cfg.Host.Device, "baud", cfg.Host.Baud)
	}

	session := gcode.NewSession(ctl, defaultFeedRate, logger)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := session.Serve(ctx, r, w); err != nil {
			return err
		}
		return errInputClosed
	})

	if cfg.Host.Listen != "" {
		srv := status.NewServer(ctl, logger)
		httpSrv := &http.Server{
			Addr:              cfg.Host.Listen,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("status server listening", "addr", cfg.Host.Listen)
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			return srv.Run(ctx, publishInterval)
		})
	}

	err = g.Wait()
	if errors.Is(err, errInputClosed) || errors.Is(err, context.Canceled) {
		logger.Info("controller stopped")
		return nil
	}
	return err
}
