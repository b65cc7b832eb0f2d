package homing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"gokin/machine"
	"gokin/machine/motion"
	"gokin/machine/rail"
)

// Orchestrator drives homing requests against a motion engine
type Orchestrator struct {
	cfg    Config
	engine motion.Engine
	manual motion.ManualMover
	logger *slog.Logger

	mu     sync.RWMutex
	states map[string]State
}

// NewOrchestrator creates an orchestrator. manual may be nil when only
// bulk homing is used.
func NewOrchestrator(cfg Config, engine motion.Engine, manual motion.ManualMover, logger *slog.Logger) (*Orchestrator, error) {
	if engine == nil {
		return nil, errors.New("homing: nil motion engine")
	}
	if cfg.Protocol == ProtocolManual {
		if manual == nil {
			return nil, errors.New("homing: manual protocol needs a manual mover")
		}
		if cfg.ProbeStep <= 0 || cfg.MaxProbes <= 0 {
			return nil, fmt.Errorf("homing: probe_step %g and max_probes %d must be positive",
				cfg.ProbeStep, cfg.MaxProbes)
		}
	}
	if cfg.Overtravel < 1 {
		return nil, fmt.Errorf("homing: overtravel %g must be at least 1", cfg.Overtravel)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		cfg:    cfg,
		engine: engine,
		manual: manual,
		logger: logger,
		states: make(map[string]State),
	}, nil
}

// Config returns the search parameters
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// States returns the last homing state of every rail seen so far
func (o *Orchestrator) States() map[string]State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]State, len(o.states))
	for name, s := range o.states {
		out[name] = s
	}
	return out
}

// State returns the last homing state of one rail
func (o *Orchestrator) State(name string) State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.states[name]
}

// Reset returns every rail to Idle
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	for name := range o.states {
		o.states[name] = Idle
	}
	o.mu.Unlock()
}

func (o *Orchestrator) transition(r *rail.Rail, to State) {
	o.mu.Lock()
	from := o.states[r.Name()]
	o.states[r.Name()] = to
	o.mu.Unlock()
	o.logger.Debug("homing transition", "rail", r.Name(), "from", from, "to", to)
}

// Home runs one request. All rails are switched to their degenerate mode
// first, searched in order, then switched back. The operating modes are
// restored even when the search fails or ctx is cancelled; in that case
// nothing is committed.
func (o *Orchestrator) Home(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res := Result{Captured: make(map[string]float64), Protocol: o.cfg.Protocol}

	var rails []*rail.Rail
	for _, r := range req.Rails {
		if r.Auxiliary() {
			o.logger.Debug("skipping auxiliary rail", "rail", r.Name())
			continue
		}
		rails = append(rails, r)
	}
	if len(rails) == 0 {
		return res, nil
	}
	if req.Positioner == nil {
		return res, errors.New("homing: request without positioner")
	}

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	var prepared []*rail.Rail
	var err error
	for _, r := range rails {
		o.transition(r, PreparingSafeMode)
		if err = r.SetActiveMode(r.OperatingMode().Degenerate()); err != nil {
			err = fmt.Errorf("prepare %s: %w", r.Name(), err)
			break
		}
		prepared = append(prepared, r)
	}

	if err == nil {
		for _, r := range rails {
			o.transition(r, Searching)
			var pos float64
			if pos, err = o.search(ctx, r); err != nil {
				err = fmt.Errorf("search %s: %w", r.Name(), err)
				break
			}
			res.Captured[r.Name()] = pos
			o.transition(r, Captured)
		}
	}

	// Restoring takes no context: it must run even after cancellation
	for _, r := range prepared {
		o.transition(r, RestoringMode)
		if rerr := r.RestoreOperatingMode(); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("restore %s: %w", r.Name(), rerr))
		}
	}

	// A cancel that lands after the search still wins over the commit
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: before commit: %v", ErrCancelled, ctx.Err())
	}
	if err == nil {
		res.Position, res.Axes = o.commitTarget(req, rails)
		if err = req.Positioner.SetPosition(res.Position, res.Axes); err != nil {
			err = fmt.Errorf("commit: %w", err)
		}
	}

	res.Duration = time.Since(start)
	if err != nil {
		for _, r := range rails {
			o.transition(r, Failed)
		}
		o.logger.Warn("homing failed", "rails", railNames(rails), "error", err)
		return res, err
	}
	for _, r := range rails {
		o.transition(r, Committed)
	}
	o.logger.Info("homing complete",
		"rails", railNames(rails),
		"axes", res.Axes.String(),
		"protocol", o.cfg.Protocol,
		"duration", res.Duration)
	return res, nil
}

// commitTarget returns the coordinate committed after a successful search
func (o *Orchestrator) commitTarget(req Request, rails []*rail.Rail) (machine.Position, machine.AxesMask) {
	if req.CommitAxes != 0 {
		return req.CommitPosition, req.CommitAxes
	}
	pos := o.engine.Position()
	var axes machine.AxesMask
	for _, r := range rails {
		axis := r.OperatingMode().Degenerate().Slot
		pos[axis] = r.HomingInfo().PositionEndstop
		axes |= machine.AxisMask(axis)
	}
	return pos, axes
}

func (o *Orchestrator) search(ctx context.Context, r *rail.Rail) (float64, error) {
	if len(r.Endstops()) == 0 {
		return 0, ErrNoEndstop
	}
	if o.cfg.Protocol == ProtocolManual {
		return o.probe(ctx, r)
	}
	return o.bulk(ctx, r)
}

// probe steps each endstop's actuator toward the sensor until it reports
// triggered
func (o *Orchestrator) probe(ctx context.Context, r *rail.Rail) (float64, error) {
	info := r.HomingInfo()
	delta := float64(info.Direction) * o.cfg.ProbeStep
	actuators := r.Actuators()

	for _, b := range r.Endstops() {
		act := actuators[b.Actuator]
		for probes := 0; ; probes++ {
			if err := ctx.Err(); err != nil {
				return 0, ctxError(err)
			}
			hit, err := b.Endstop.Query(o.engine.LastMoveCompletionTime())
			if err != nil {
				return 0, fmt.Errorf("query %s: %w", b.Endstop.Name(), err)
			}
			if hit {
				o.logger.Debug("endstop triggered", "endstop", b.Endstop.Name(), "probes", probes)
				break
			}
			if probes >= o.cfg.MaxProbes {
				return 0, fmt.Errorf("%w: %s after %d probes", ErrEndstopNeverTriggered, b.Endstop.Name(), probes)
			}
			if err := o.manual.ManualMove(ctx, act, delta, o.cfg.ProbeSpeed, o.cfg.ProbeAccel); err != nil {
				if ctx.Err() != nil {
					return 0, ctxError(ctx.Err())
				}
				return 0, fmt.Errorf("manual move %s: %w", act.Name(), err)
			}
		}
	}
	return actuators[0].Position(), nil
}

// bulk issues one homing move from the forced start position toward the
// reference
func (o *Orchestrator) bulk(ctx context.Context, r *rail.Rail) (float64, error) {
	info := r.HomingInfo()
	min, max := r.Range()
	axis := r.OperatingMode().Degenerate().Slot

	start := o.engine.Position()
	start[axis] = ForcedTarget(info, min, max, o.cfg.Overtravel)
	if err := o.engine.SetPosition(start, 0); err != nil {
		return 0, fmt.Errorf("set forced position: %w", err)
	}
	target := start
	target[axis] = info.PositionEndstop

	req := motion.HomingMoveRequest{
		Target:    target,
		Speed:     info.Speed,
		AxesMoved: machine.AxisMask(axis),
	}
	for _, b := range r.Endstops() {
		req.Endstops = append(req.Endstops, b.Endstop)
	}
	actuators := r.Actuators()
	for _, a := range actuators {
		req.Steppers = append(req.Steppers, a)
	}

	result, err := o.engine.HomingMove(ctx, req)
	switch {
	case ctx.Err() != nil:
		return 0, ctxError(ctx.Err())
	case errors.Is(err, motion.ErrNoTrigger):
		return 0, fmt.Errorf("%w: %v", ErrEndstopNeverTriggered, err)
	case err != nil:
		return 0, fmt.Errorf("homing move: %w", err)
	case !result.Triggered:
		return 0, fmt.Errorf("%w: move ended at %s=%g", ErrEndstopNeverTriggered,
			machine.AxisName(axis), result.Halt[axis])
	}

	o.logger.Debug("endstop triggered", "endstop", result.Endstop, "trigger_time", result.TriggerTime)
	if pos, ok := result.Positions[actuators[0].Name()]; ok {
		return pos, nil
	}
	return actuators[0].Position(), nil
}

// ctxError maps a context error to the homing error it stands for: a
// deadline is a search that never saw its endstop
func ctxError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out", ErrEndstopNeverTriggered)
	}
	return fmt.Errorf("%w: %v", ErrCancelled, err)
}

func railNames(rails []*rail.Rail) []string {
	names := make([]string, len(rails))
	for i, r := range rails {
		names[i] = r.Name()
	}
	return names
}
