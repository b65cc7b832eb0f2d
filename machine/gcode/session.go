package gcode

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Session runs a stream of G-code lines against a Machine and produces
// one reply per line. It is not safe for concurrent use.
type Session struct {
	parser  *Parser
	interp  *Interpreter
	machine Machine
	logger  *slog.Logger
}

// NewSession creates a session. logger may be nil.
func NewSession(m Machine, feedRate float64, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		parser:  NewParser(),
		interp:  NewInterpreter(m, feedRate),
		machine: m,
		logger:  logger,
	}
}

// Interpreter returns the session's interpreter
func (s *Session) Interpreter() *Interpreter {
	return s.interp
}

// ProcessLine runs one line. The reply is "ok", "ok <text>" for commands
// that report something, "!! <error>" on failure, or empty for a blank
// line.
func (s *Session) ProcessLine(ctx context.Context, line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}

	cmd, err := s.parser.ParseLine(line)
	if err != nil {
		s.logger.Warn("parse error", "line", line, "error", err)
		return "!! " + err.Error()
	}
	text, err := s.interp.Execute(ctx, cmd)
	if err != nil {
		s.logger.Warn("command failed", "line", line, "error", err)
		return "!! " + err.Error()
	}
	if text != "" {
		return "ok " + text
	}
	return "ok"
}

type servedLine struct {
	text    string
	stopped bool // M112 already executed by the reader
}

// Serve reads lines from r and writes the replies to w until r is
// exhausted or ctx is done. An emergency stop takes effect as soon as
// its line is read, even while an earlier command is still running, and
// is not executed a second time when its turn comes.
func (s *Session) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan servedLine)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := servedLine{text: scanner.Text()}
			if isEmergencyStop(line.text) {
				s.logger.Warn("emergency stop requested")
				s.machine.EmergencyStop()
				line.stopped = true
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			reply := "ok"
			if !line.stopped {
				reply = s.ProcessLine(ctx, line.text)
			}
			if reply == "" {
				continue
			}
			if _, err := fmt.Fprintln(w, reply); err != nil {
				return fmt.Errorf("write reply: %w", err)
			}
		}
	}
}

func isEmergencyStop(line string) bool {
	cmd, err := NewParser().ParseLine(line)
	return err == nil && cmd != nil && cmd.Type == 'M' && cmd.Number == 112
}
