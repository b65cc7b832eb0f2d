package rail

import (
	"errors"
	"testing"

	"gokin/machine"
	"gokin/machine/kinematics"
)

// recordingFlusher notes the rail's active mode at every flush
type recordingFlusher struct {
	rail  *Rail
	modes []kinematics.Mode
	err   error
}

func (f *recordingFlusher) FlushPendingMotion() error {
	if f.rail != nil {
		f.modes = append(f.modes, f.rail.ActiveMode())
	}
	return f.err
}

func newTestRail(t *testing.T, mode kinematics.Mode, f *recordingFlusher) *Rail {
	t.Helper()
	r, err := New(Config{
		Name:        "stepper_s",
		Mode:        mode,
		PositionMin: -3.2,
		PositionMax: 3.2,
		Homing:      HomingInfo{Speed: 1, PositionEndstop: 0, Direction: Positive},
		Actuators:   []ActuatorConfig{{Name: "stepper_s", StepsPerUnit: 1000}, {Name: "stepper_s1"}},
	}, f, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.rail = r
	return r
}

func TestSetActiveModeFlushesFirst(t *testing.T) {
	op := kinematics.TwoLinkArm(0, 100, 100)
	f := &recordingFlusher{}
	r := newTestRail(t, op, f)

	if err := r.SetActiveMode(op.Degenerate()); err != nil {
		t.Fatalf("SetActiveMode: %v", err)
	}
	if len(f.modes) != 1 || f.modes[0] != op {
		t.Fatalf("Expected one flush under the operating mode, got %v", f.modes)
	}
	if r.ActiveMode() != op.Degenerate() {
		t.Errorf("Expected active mode %s, got %s", op.Degenerate(), r.ActiveMode())
	}

	// Same mode again is a no-op
	if err := r.SetActiveMode(op.Degenerate()); err != nil {
		t.Fatalf("SetActiveMode: %v", err)
	}
	if len(f.modes) != 1 {
		t.Errorf("Expected no extra flush for an unchanged mode, got %d flushes", len(f.modes))
	}

	if err := r.SetActiveMode(op); err != nil {
		t.Fatalf("SetActiveMode restore: %v", err)
	}
	if len(f.modes) != 2 || f.modes[1] != op.Degenerate() {
		t.Errorf("Expected restore flush under the degenerate mode, got %v", f.modes)
	}
}

func TestSetActiveModeMismatch(t *testing.T) {
	f := &recordingFlusher{}
	r := newTestRail(t, kinematics.TwoLinkArm(0, 100, 100), f)

	for _, mode := range []kinematics.Mode{
		kinematics.TwoLinkArm(1, 100, 100),
		kinematics.TwoLinkArm(0, 100, 90),
		kinematics.Linear(machine.AxisY),
		kinematics.MultiLinkArm(0, 10, 100, 100),
	} {
		if err := r.SetActiveMode(mode); !errors.Is(err, ErrModeMismatch) {
			t.Errorf("%s: got %v, want ErrModeMismatch", mode, err)
		}
	}
	if len(f.modes) != 0 {
		t.Errorf("Rejected swaps must not flush, got %d flushes", len(f.modes))
	}
}

func TestSetActiveModeFlushError(t *testing.T) {
	boom := errors.New("mcu shutdown")
	f := &recordingFlusher{err: boom}
	op := kinematics.TwoLinkArm(1, 100, 100)
	r := newTestRail(t, op, f)

	if err := r.SetActiveMode(op.Degenerate()); !errors.Is(err, boom) {
		t.Fatalf("Expected flush error, got %v", err)
	}
	if r.ActiveMode() != op {
		t.Errorf("Mode changed despite failed flush: %s", r.ActiveMode())
	}
}

// haltingFlusher is a flusher that can also drop queued motion
type haltingFlusher struct {
	recordingFlusher
	halts int
}

func (f *haltingFlusher) Halt() { f.halts++ }

func TestRestoreOperatingModeAfterFlushError(t *testing.T) {
	boom := errors.New("mcu shutdown")
	f := &haltingFlusher{}
	op := kinematics.TwoLinkArm(0, 100, 100)
	r, err := New(Config{
		Name:        "stepper_s",
		Mode:        op,
		PositionMin: -3.2,
		PositionMax: 3.2,
		Homing:      HomingInfo{Speed: 1, Direction: Positive},
		Actuators:   []ActuatorConfig{{Name: "stepper_s", StepsPerUnit: 1000}},
	}, f, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := r.SetActiveMode(op.Degenerate()); err != nil {
		t.Fatalf("SetActiveMode: %v", err)
	}
	f.err = boom
	if err := r.RestoreOperatingMode(); !errors.Is(err, boom) {
		t.Fatalf("Expected flush error, got %v", err)
	}
	if r.ActiveMode() != op {
		t.Errorf("Expected operating mode %s after restore, got %s", op, r.ActiveMode())
	}
	if f.halts != 1 {
		t.Errorf("Expected queued motion to be dropped once, got %d halts", f.halts)
	}

	// Already restored: no flush, no error
	if err := r.RestoreOperatingMode(); err != nil {
		t.Errorf("Second restore: %v", err)
	}
}

func TestCommitPosition(t *testing.T) {
	f := &recordingFlusher{}
	op := kinematics.TwoLinkArm(1, 100, 100)
	r := newTestRail(t, op, f)

	// Degenerate mode: the arm rail follows Y
	if err := r.SetActiveMode(op.Degenerate()); err != nil {
		t.Fatal(err)
	}
	if err := r.CommitPosition(machine.Position{7, 1.5, 0, 0}); err != nil {
		t.Fatalf("CommitPosition: %v", err)
	}
	for _, a := range r.Actuators() {
		if a.Position() != 1.5 {
			t.Errorf("%s: Expected 1.5, got %f", a.Name(), a.Position())
		}
	}
	if got := r.Actuators()[0].Steps(); got != 1500 {
		t.Errorf("Expected 1500 steps, got %d", got)
	}

	// Operating mode with an unreachable target leaves positions alone
	if err := r.SetActiveMode(op); err != nil {
		t.Fatal(err)
	}
	err := r.CommitPosition(machine.Position{500, 0, 0, 0})
	if !errors.Is(err, kinematics.ErrUnreachable) {
		t.Fatalf("Expected ErrUnreachable, got %v", err)
	}
	if r.Position() != 1.5 {
		t.Errorf("Position changed after failed commit: %f", r.Position())
	}
}

func TestActuatorFollowsActiveMode(t *testing.T) {
	f := &recordingFlusher{}
	op := kinematics.TwoLinkArm(0, 100, 100)
	r := newTestRail(t, op, f)
	a := r.Actuators()[0]
	pos := machine.Position{0.25, 120, 0, 0}

	want, err := op.ActuatorPosition(pos)
	if err != nil {
		t.Fatal(err)
	}
	got, err := a.CalcPositionFromCoord(pos)
	if err != nil || got != want {
		t.Errorf("operating: got %f, %v; want %f", got, err, want)
	}

	if err := r.SetActiveMode(op.Degenerate()); err != nil {
		t.Fatal(err)
	}
	got, err = a.CalcPositionFromCoord(pos)
	if err != nil || got != 0.25 {
		t.Errorf("degenerate: got %f, %v; want 0.25", got, err)
	}
}

func TestNewValidation(t *testing.T) {
	base := Config{
		Name:        "stepper_x",
		Mode:        kinematics.Linear(machine.AxisX),
		PositionMin: 0,
		PositionMax: 200,
		Homing:      HomingInfo{Speed: 50, Direction: Negative},
		Actuators:   []ActuatorConfig{{Name: "stepper_x", StepsPerUnit: 80}},
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"range", func(c *Config) { c.PositionMin = 300 }, ErrInvalidRail},
		{"direction", func(c *Config) { c.Homing.Direction = 0 }, ErrInvalidRail},
		{"actuators", func(c *Config) { c.Actuators = nil }, ErrInvalidRail},
		{"mode", func(c *Config) { c.Mode = kinematics.TwoLinkArm(0, -1, 1) }, kinematics.ErrInvalidMode},
	}

	if _, err := New(base, &recordingFlusher{}, nil); err != nil {
		t.Fatalf("base config: %v", err)
	}
	for _, test := range tests {
		cfg := base
		test.mutate(&cfg)
		if _, err := New(cfg, &recordingFlusher{}, nil); !errors.Is(err, test.want) {
			t.Errorf("%s: got %v, want %v", test.name, err, test.want)
		}
	}
}

func TestAuxiliaryFromMode(t *testing.T) {
	bed, err := New(Config{
		Name:        "stepper_b",
		Mode:        kinematics.MultiLinkArm(0, 40, 150, 120),
		PositionMin: -1000,
		PositionMax: 1000,
		Homing:      HomingInfo{Speed: 1, Direction: Positive},
		Actuators:   []ActuatorConfig{{Name: "stepper_b"}},
	}, &recordingFlusher{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bed.Auxiliary() {
		t.Error("Expected the multilink bed rail to be auxiliary")
	}
}
