// Package status serves the controller state over HTTP: a JSON snapshot,
// a websocket that pushes every published update, and endpoints for
// homing and emergency stop.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"gokin/machine"
	"gokin/machine/controller"
	"gokin/machine/homing"
)

// Controller is the part of the kinematics controller the server uses
type Controller interface {
	Status(eventtime float64) controller.Status
	Home(ctx context.Context, axes machine.AxesMask) (homing.Result, error)
	EmergencyStop()
}

// Server publishes controller status
type Server struct {
	ctl    Controller
	logger *slog.Logger
	start  time.Time
	router *mux.Router

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     controller.Status
	seq        uint64 // Incremented on every publish
}

// NewServer creates a server and takes the first snapshot
func NewServer(ctl Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		ctl:    ctl,
		logger: logger,
		start:  time.Now(),
	}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())

	r := mux.NewRouter()
	r.HandleFunc("/status", s.StatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/estop", s.EmergencyStopHandler).Methods(http.MethodPost)
	r.HandleFunc("/home", s.HomeHandler).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.StatusSocketHandler)
	s.router = r

	s.Publish()
	return s
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	return s.router
}

// Publish snapshots the controller and wakes every websocket client
func (s *Server) Publish() {
	st := s.ctl.Status(time.Since(s.start).Seconds())
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = st
	s.seq++
	s.statusCond.Broadcast()
}

// Run publishes at every interval until ctx is done
func (s *Server) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Publish()
		}
	}
}

func (s *Server) snapshot() (controller.Status, uint64) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status, s.seq
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// StatusHandler returns the last published status
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	st, _ := s.snapshot()
	s.writeJSON(w, http.StatusOK, st)
}

// EmergencyStopHandler stops the machine
func (s *Server) EmergencyStopHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn("emergency stop requested", "remote", r.RemoteAddr)
	s.ctl.EmergencyStop()
	s.Publish()
	w.WriteHeader(http.StatusNoContent)
}

// HomeResponse reports a finished homing request
type HomeResponse struct {
	Axes     string             `json:"axes"`
	Captured map[string]float64 `json:"captured"`
	Protocol string             `json:"protocol"`
	Duration float64            `json:"duration"` // Seconds
}

// HomeHandler homes the axes in the "axes" query parameter (all when
// absent). Cancelling the request cancels homing.
func (s *Server) HomeHandler(w http.ResponseWriter, r *http.Request) {
	axes, ok := machine.ParseAxes(r.URL.Query().Get("axes"))
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad axes"})
		return
	}
	res, err := s.ctl.Home(r.Context(), axes)
	s.Publish()
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, homing.ErrCancelled) {
			code = http.StatusConflict
		}
		s.writeJSON(w, code, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, HomeResponse{
		Axes:     res.Axes.String(),
		Captured: res.Captured,
		Protocol: res.Protocol.String(),
		Duration: res.Duration.Seconds(),
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Command is a request sent by a websocket client
type Command struct {
	Command string `json:"command"` // "estop" or "home"
	Axes    string `json:"axes"`
}

// StatusSocketHandler pushes every published status to the client and
// accepts commands from it
func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Read and process incoming messages
	go func() {
		defer cancel()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			s.handleCommand(ctx, msg)
		}
	}()

	// Wake the writer when the client goes away
	go func() {
		<-ctx.Done()
		s.statusMu.Lock()
		s.statusCond.Broadcast()
		s.statusMu.Unlock()
	}()

	status, seq := s.snapshot()
	for {
		if err := conn.WriteJSON(status); err != nil {
			s.logger.Debug("websocket write", "error", err)
			return
		}

		s.statusMu.RLock()
		for s.seq == seq && ctx.Err() == nil {
			s.statusCond.Wait()
		}
		status, seq = s.status, s.seq
		s.statusMu.RUnlock()
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Server) handleCommand(ctx context.Context, msg Command) {
	switch msg.Command {
	case "estop":
		s.ctl.EmergencyStop()
		s.Publish()
	case "home":
		axes, ok := machine.ParseAxes(msg.Axes)
		if !ok {
			s.logger.Warn("websocket home: bad axes", "axes", msg.Axes)
			return
		}
		go func() {
			if _, err := s.ctl.Home(ctx, axes); err != nil {
				s.logger.Warn("websocket home failed", "error", err)
			}
			s.Publish()
		}()
	default:
		s.logger.Warn("unknown websocket command", "command", msg.Command)
	}
}
