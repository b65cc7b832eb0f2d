// Package sim is an in-process motion engine: it plans queued moves,
// generates quantized steps for every registered actuator and simulates
// endstops, so the kinematics core can run without hardware.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"gokin/machine"
	"gokin/machine/motion"
)

// ErrUnknownStepper is returned for actuators that were never registered
var ErrUnknownStepper = errors.New("stepper not registered")

// Config holds the simulated machine limits
type Config struct {
	MaxVelocity float64 // Units/s
	MaxAccel    float64 // Units/s^2
	Resolution  float64 // Segment length of homing moves
	QueueDepth  int     // Moves buffered before an automatic flush
	TimeScale   float64 // Wall-clock seconds per simulated second (0 = no pacing)
}

// DefaultConfig returns limits suitable for tests
func DefaultConfig() Config {
	return Config{
		MaxVelocity: 300,
		MaxAccel:    3000,
		Resolution:  0.01,
		QueueDepth:  32,
	}
}

type plannedMove struct {
	move     machine.Move
	duration float64
}

// Toolhead plans and executes motion
type Toolhead struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	pos       machine.Position // Commanded toolhead position
	flushed   machine.Position // Position the steppers were last stepped to
	printTime float64          // Completion time of flushed motion
	pending   []plannedMove
	steppers  []*Stepper
	byName    map[string]*Stepper
	queue     *moveQueue
}

// NewToolhead creates a simulated motion engine
func NewToolhead(cfg Config, logger *slog.Logger) *Toolhead {
	def := DefaultConfig()
	if cfg.MaxVelocity <= 0 {
		cfg.MaxVelocity = def.MaxVelocity
	}
	if cfg.MaxAccel <= 0 {
		cfg.MaxAccel = def.MaxAccel
	}
	if cfg.Resolution <= 0 {
		cfg.Resolution = def.Resolution
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &Toolhead{
		cfg:    cfg,
		logger: logger,
		byName: make(map[string]*Stepper),
	}
	t.queue = &moveQueue{t: t}
	return t
}

// MotionQueue returns the queue validated moves are appended to
func (t *Toolhead) MotionQueue() motion.MotionQueue {
	return t.queue
}

// RegisterStepSource attaches an actuator to step generation
func (t *Toolhead) RegisterStepSource(src motion.StepSource) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byName[src.Name()]; ok {
		return fmt.Errorf("stepper %s already registered", src.Name())
	}
	s := newStepper(src)
	t.steppers = append(t.steppers, s)
	t.byName[src.Name()] = s
	return nil
}

// Stepper returns the step generator for a registered actuator
func (t *Toolhead) Stepper(name string) *Stepper {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byName[name]
}

// Position returns the commanded toolhead position
func (t *Toolhead) Position() machine.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// SetPosition flushes queued motion and overwrites the toolhead position.
// Every registered actuator is repositioned through its active mode; if
// any of them cannot be, nothing changes.
func (t *Toolhead) SetPosition(pos machine.Position, homingAxes machine.AxesMask) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.flushLocked(); err != nil {
		return err
	}

	targets := make([]float64, len(t.steppers))
	for i, s := range t.steppers {
		v, err := s.src.CalcPositionFromCoord(pos)
		if err != nil {
			return fmt.Errorf("set position %s: %w", s.Name(), err)
		}
		targets[i] = v
	}
	for i, s := range t.steppers {
		s.SetPosition(targets[i])
	}
	t.pos = pos
	t.flushed = pos
	if homingAxes != 0 {
		t.logger.Debug("position set", "pos", pos, "homing_axes", homingAxes.String())
	}
	return nil
}

// FlushPendingMotion generates steps for all queued moves
func (t *Toolhead) FlushPendingMotion() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked()
}

func (t *Toolhead) flushLocked() error {
	for len(t.pending) > 0 {
		pm := t.pending[0]
		t.pending = t.pending[1:]
		if err := t.stepToLocked(pm.move.End); err != nil {
			t.pending = nil
			t.pos = t.flushed
			return fmt.Errorf("flush: %w", err)
		}
		t.flushed = pm.move.End
		t.printTime += pm.duration
	}
	return nil
}

// stepToLocked moves every stepper to its position for tool position pos
func (t *Toolhead) stepToLocked(pos machine.Position) error {
	targets := make([]float64, len(t.steppers))
	for i, s := range t.steppers {
		v, err := s.src.CalcPositionFromCoord(pos)
		if err != nil {
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
		targets[i] = v
	}
	for i, s := range t.steppers {
		s.MoveTo(targets[i])
	}
	return nil
}

// LastMoveCompletionTime returns the print time at which queued motion ends
func (t *Toolhead) LastMoveCompletionTime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	end := t.printTime
	for _, pm := range t.pending {
		end += pm.duration
	}
	return end
}

// Pending returns the number of queued moves
func (t *Toolhead) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Halt drops all queued motion. The commanded position falls back to
// where the steppers actually are.
func (t *Toolhead) Halt() {
	t.mu.Lock()
	n := len(t.pending)
	t.pending = nil
	t.pos = t.flushed
	t.mu.Unlock()
	if n > 0 {
		t.logger.Warn("motion halted", "dropped_moves", n)
	}
}

// MotorOff flushes and powers down every driver
func (t *Toolhead) MotorOff() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.flushLocked(); err != nil {
		return err
	}
	for _, s := range t.steppers {
		s.Disable()
	}
	return nil
}

// HomingMove moves toward req.Target in short segments, querying the
// endstops after each one, and stops at the first trigger
func (t *Toolhead) HomingMove(ctx context.Context, req motion.HomingMoveRequest) (motion.HomingMoveResult, error) {
	var res motion.HomingMoveResult
	if len(req.Endstops) == 0 {
		return res, errors.New("homing move without endstops")
	}
	if err := t.FlushPendingMotion(); err != nil {
		return res, err
	}

	start := t.Position()
	dist := distance(start, req.Target)
	speed := req.Speed
	if speed <= 0 || speed > t.cfg.MaxVelocity {
		speed = t.cfg.MaxVelocity
	}
	segments := int(math.Ceil(dist / t.cfg.Resolution))
	if segments < 1 {
		segments = 1
	}
	segTime := dist / float64(segments) / speed

	for i := 0; i <= segments; i++ {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				res.Halt = t.Position()
				return res, err
			}
			pos := lerp(start, req.Target, float64(i)/float64(segments))
			t.mu.Lock()
			err := t.stepToLocked(pos)
			if err == nil {
				t.pos = pos
				t.flushed = pos
				t.printTime += segTime
			}
			t.mu.Unlock()
			if err != nil {
				res.Halt = t.Position()
				return res, fmt.Errorf("homing move: %w", err)
			}
			if err := t.pace(ctx, segTime); err != nil {
				res.Halt = t.Position()
				return res, err
			}
		}

		now := t.LastMoveCompletionTime()
		for _, es := range req.Endstops {
			hit, err := es.Query(now)
			if err != nil {
				return res, fmt.Errorf("query %s: %w", es.Name(), err)
			}
			if !hit {
				continue
			}
			res.Triggered = true
			res.TriggerTime = now
			res.Endstop = es.Name()
			res.Halt = t.Position()
			res.Positions = make(map[string]float64, len(req.Steppers))
			for _, src := range req.Steppers {
				if s := t.Stepper(src.Name()); s != nil {
					res.Positions[src.Name()] = s.Position()
				} else {
					res.Positions[src.Name()] = src.Position()
				}
			}
			return res, nil
		}
	}

	res.Halt = t.Position()
	return res, fmt.Errorf("%w: reached %v", motion.ErrNoTrigger, res.Halt)
}

// ManualMove moves one actuator by delta, bypassing kinematics
func (t *Toolhead) ManualMove(ctx context.Context, src motion.StepSource, delta, speed, accel float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	if err := t.flushLocked(); err != nil {
		t.mu.Unlock()
		return err
	}
	s, ok := t.byName[src.Name()]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownStepper, src.Name())
	}
	if speed <= 0 || speed > t.cfg.MaxVelocity {
		speed = t.cfg.MaxVelocity
	}
	if accel <= 0 || accel > t.cfg.MaxAccel {
		accel = t.cfg.MaxAccel
	}
	dur := moveDuration(math.Abs(delta), speed, accel)
	s.MoveTo(src.Position() + delta)
	t.printTime += dur
	t.mu.Unlock()

	return t.pace(ctx, dur)
}

// pace sleeps for the scaled duration of simulated motion
func (t *Toolhead) pace(ctx context.Context, seconds float64) error {
	if t.cfg.TimeScale <= 0 || seconds <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(time.Duration(seconds * t.cfg.TimeScale * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// moveQueue plans moves and hands them to the toolhead
type moveQueue struct {
	t *Toolhead
}

// Append plans a trapezoidal profile for m and queues it. The queue is
// flushed when it reaches its depth.
func (q *moveQueue) Append(m machine.Move) error {
	t := q.t
	t.mu.Lock()
	defer t.mu.Unlock()

	speed := m.Speed
	if speed <= 0 || speed > t.cfg.MaxVelocity {
		speed = t.cfg.MaxVelocity
	}
	dist := m.Distance()
	if dist == 0 {
		dist = math.Abs(m.End.E() - m.Start.E())
	}
	t.pending = append(t.pending, plannedMove{
		move:     m,
		duration: moveDuration(dist, speed, t.cfg.MaxAccel),
	})
	t.pos = m.End

	if len(t.pending) >= t.cfg.QueueDepth {
		return t.flushLocked()
	}
	return nil
}

func (q *moveQueue) Pending() int {
	return q.t.Pending()
}

// moveDuration returns the time of a move that starts and ends at rest
func moveDuration(dist, speed, accel float64) float64 {
	if dist <= 0 || speed <= 0 || accel <= 0 {
		return 0
	}
	accelDist := speed * speed / (2 * accel)
	if 2*accelDist >= dist {
		// Triangle profile (can't reach full speed)
		peak := math.Sqrt(accel * dist)
		return 2 * peak / accel
	}
	cruise := dist - 2*accelDist
	return 2*speed/accel + cruise/speed
}

func distance(a, b machine.Position) float64 {
	var sum float64
	for axis := range a {
		d := b[axis] - a[axis]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func lerp(a, b machine.Position, f float64) machine.Position {
	var p machine.Position
	for axis := range p {
		p[axis] = a[axis] + (b[axis]-a[axis])*f
	}
	return p
}

var (
	_ motion.Engine        = (*Toolhead)(nil)
	_ motion.ManualMover   = (*Toolhead)(nil)
	_ motion.Halter        = (*Toolhead)(nil)
	_ motion.MotorDisabler = (*Toolhead)(nil)
)
