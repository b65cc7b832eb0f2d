package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"gokin/machine"
	"gokin/machine/controller"
	"gokin/machine/homing"
)

type fakeController struct {
	mu      sync.Mutex
	homed   machine.AxesMask
	estops  int
	homeErr error
	homes   []machine.AxesMask
}

func (c *fakeController) Status(eventtime float64) controller.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return controller.Status{
		EventTime:  eventtime,
		Kinematics: "twolink",
		HomedAxes:  c.homed.String(),
		Rails: []controller.RailStatus{
			{Name: "stepper_s", ActiveMode: "twolink[0](l1=100,l2=100)", HomingState: "idle"},
		},
	}
}

func (c *fakeController) Home(ctx context.Context, axes machine.AxesMask) (homing.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.homes = append(c.homes, axes)
	if c.homeErr != nil {
		return homing.Result{}, c.homeErr
	}
	c.homed = machine.MaskX | machine.MaskY
	return homing.Result{
		Captured: map[string]float64{"stepper_s": 0.001},
		Axes:     c.homed,
		Protocol: homing.ProtocolBulk,
		Duration: 1500 * time.Millisecond,
	}, nil
}

func (c *fakeController) EmergencyStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.estops++
	c.homed = 0
}

func (c *fakeController) estopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estops
}

func TestStatusHandler(t *testing.T) {
	s := NewServer(&fakeController{homed: machine.MaskX}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got controller.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	want := controller.Status{
		Kinematics: "twolink",
		HomedAxes:  "x",
		Rails: []controller.RailStatus{
			{Name: "stepper_s", ActiveMode: "twolink[0](l1=100,l2=100)", HomingState: "idle"},
		},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(controller.Status{}, "EventTime")); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHomeHandler(t *testing.T) {
	ctl := &fakeController{}
	s := NewServer(ctl, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/home?axes=xy", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got HomeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	want := HomeResponse{
		Axes:     "xy",
		Captured: map[string]float64{"stepper_s": 0.001},
		Protocol: "bulk",
		Duration: 1.5,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("home response mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []machine.AxesMask{machine.MaskX | machine.MaskY}, ctl.homes)

	// The published snapshot follows the controller
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Contains(t, rec.Body.String(), `"homed_axes":"xy"`)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/home?axes=q", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	ctl.homeErr = homing.ErrCancelled
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/home", nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	ctl.homeErr = homing.ErrEndstopNeverTriggered
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/home", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), homing.ErrEndstopNeverTriggered.Error())
}

func TestEmergencyStopHandler(t *testing.T) {
	ctl := &fakeController{homed: machine.MaskXYZ}
	s := NewServer(ctl, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/estop", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, 1, ctl.estopCount())

	st, _ := s.snapshot()
	require.Empty(t, st.HomedAxes)
}

func TestStatusSocket(t *testing.T) {
	ctl := &fakeController{}
	s := NewServer(ctl, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var st controller.Status
	require.NoError(t, conn.ReadJSON(&st))
	require.Equal(t, "twolink", st.Kinematics)
	require.Empty(t, st.HomedAxes)

	require.NoError(t, conn.WriteJSON(Command{Command: "home", Axes: "x"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for st.HomedAxes != "xy" {
		require.NoError(t, conn.ReadJSON(&st))
	}

	require.NoError(t, conn.WriteJSON(Command{Command: "estop"}))
	for st.HomedAxes != "" {
		require.NoError(t, conn.ReadJSON(&st))
	}
	require.Equal(t, 1, ctl.estopCount())
}

func TestRunPublishes(t *testing.T) {
	ctl := &fakeController{}
	s := NewServer(ctl, nil)
	_, before := s.snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Run(ctx, 5*time.Millisecond), context.DeadlineExceeded)

	_, after := s.snapshot()
	require.Greater(t, after, before)
}
