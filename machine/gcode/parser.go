// Package gcode is the text front end of the controller: it parses G-code
// lines and runs them against a Machine.
package gcode

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is one parsed G-code line
type Command struct {
	Type       byte // 'G', 'M' or 'T'; 0 for parameter/comment-only lines
	Number     int
	Parameters map[byte]float64
	Comment    string
}

// HasParameter checks if a parameter exists in the command
func (cmd *Command) HasParameter(param byte) bool {
	_, ok := cmd.Parameters[param]
	return ok
}

// GetParameter gets a parameter value, or returns the default if not present
func (cmd *Command) GetParameter(param byte, defaultValue float64) float64 {
	if val, ok := cmd.Parameters[param]; ok {
		return val
	}
	return defaultValue
}

// Name returns the command word, e.g. "G28"
func (cmd *Command) Name() string {
	if cmd.Type == 0 {
		return ""
	}
	return fmt.Sprintf("%c%d", cmd.Type, cmd.Number)
}

// Parser handles G-code parsing
type Parser struct{}

// NewParser creates a new G-code parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseLine parses a single line of G-code. Blank lines yield a nil
// command. A parameter letter without a value ("G28 X") is stored as 0.
func (p *Parser) ParseLine(line string) (*Command, error) {
	// Checksums ("*71") are not verified
	if idx := strings.IndexByte(line, '*'); idx >= 0 {
		line = line[:idx]
	}

	i := skipSpace(line, 0)
	if i >= len(line) {
		return nil, nil
	}

	cmd := &Command{
		Parameters: make(map[byte]float64),
	}

	// Check for comment
	if line[i] == ';' || line[i] == '(' {
		cmd.Comment = line[i:]
		return cmd, nil
	}

	// Line number
	if toUpper(line[i]) == 'N' {
		_, end := scanNumber(line, i+1)
		if end == i+1 {
			return nil, fmt.Errorf("gcode: bad line number in %q", line)
		}
		i = skipSpace(line, end)
	}

	// Parse command type (G, M, T)
	if i < len(line) {
		switch c := toUpper(line[i]); c {
		case 'G', 'M', 'T':
			numStart := i + 1
			text, end := scanNumber(line, numStart)
			num, err := strconv.Atoi(text)
			if err != nil {
				return nil, fmt.Errorf("gcode: bad command number in %q", line)
			}
			cmd.Type = c
			cmd.Number = num
			i = end
		}
	}

	// Parse parameters
	for {
		i = skipSpace(line, i)
		if i >= len(line) {
			break
		}

		// Check for comment
		if line[i] == ';' || line[i] == '(' {
			cmd.Comment = line[i:]
			break
		}

		if !isLetter(line[i]) {
			return nil, fmt.Errorf("gcode: unexpected %q at column %d", line[i], i+1)
		}
		letter := toUpper(line[i])
		text, end := scanNumber(line, i+1)
		value := 0.0
		if text != "" {
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("gcode: bad value for %c: %q", letter, text)
			}
			value = v
		}
		cmd.Parameters[letter] = value
		i = end
	}

	return cmd, nil
}

// scanNumber returns the numeric text starting at pos and the index after it
func scanNumber(s string, pos int) (string, int) {
	end := pos
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.') {
		end++
	}
	if end == pos+1 && (s[pos] == '-' || s[pos] == '+') {
		return "", pos
	}
	return s[pos:end], end
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && (s[pos] == ' ' || s[pos] == '\t' || s[pos] == '\r' || s[pos] == '\n') {
		pos++
	}
	return pos
}

// isLetter checks if a byte is a letter
func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// toUpper converts a byte to uppercase
func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
