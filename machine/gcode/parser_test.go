package gcode

import (
	"testing"
)

func TestParseBasicCommands(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		input   string
		cmdType byte
		cmdNum  int
		params  map[byte]float64
	}{
		{
			input:   "G0 X10 Y20",
			cmdType: 'G',
			cmdNum:  0,
			params:  map[byte]float64{'X': 10, 'Y': 20},
		},
		{
			input:   "G1 X100.5 Y200.25 F3000",
			cmdType: 'G',
			cmdNum:  1,
			params:  map[byte]float64{'X': 100.5, 'Y': 200.25, 'F': 3000},
		},
		{
			input:   "G28",
			cmdType: 'G',
			cmdNum:  28,
			params:  map[byte]float64{},
		},
		{
			input:   "G28 X Z",
			cmdType: 'G',
			cmdNum:  28,
			params:  map[byte]float64{'X': 0, 'Z': 0},
		},
		{
			input:   "N12 G92 X0 Y0 Z0*47",
			cmdType: 'G',
			cmdNum:  92,
			params:  map[byte]float64{'X': 0, 'Y': 0, 'Z': 0},
		},
		{
			input:   "M114",
			cmdType: 'M',
			cmdNum:  114,
			params:  map[byte]float64{},
		},
	}

	for _, test := range tests {
		cmd, err := parser.ParseLine(test.input)
		if err != nil {
			t.Errorf("Failed to parse '%s': %v", test.input, err)
			continue
		}

		if cmd == nil {
			t.Errorf("Got nil command for '%s'", test.input)
			continue
		}

		if cmd.Type != test.cmdType {
			t.Errorf("Expected type %c, got %c for '%s'", test.cmdType, cmd.Type, test.input)
		}

		if cmd.Number != test.cmdNum {
			t.Errorf("Expected number %d, got %d for '%s'", test.cmdNum, cmd.Number, test.input)
		}

		if len(cmd.Parameters) != len(test.params) {
			t.Errorf("Expected %d parameters, got %v for '%s'", len(test.params), cmd.Parameters, test.input)
		}
		for param, value := range test.params {
			if !cmd.HasParameter(param) {
				t.Errorf("Missing parameter %c in '%s'", param, test.input)
			} else if cmd.GetParameter(param, 0) != value {
				t.Errorf("Expected %c=%f, got %c=%f in '%s'",
					param, value, param, cmd.GetParameter(param, 0), test.input)
			}
		}
	}
}

func TestParseNegativeNumbers(t *testing.T) {
	parser := NewParser()

	cmd, err := parser.ParseLine("G1 X-10.5 Y-20 Z+.5")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}

	if cmd.GetParameter('X', 0) != -10.5 {
		t.Errorf("Expected X=-10.5, got X=%f", cmd.GetParameter('X', 0))
	}

	if cmd.GetParameter('Y', 0) != -20 {
		t.Errorf("Expected Y=-20, got Y=%f", cmd.GetParameter('Y', 0))
	}

	if cmd.GetParameter('Z', 0) != 0.5 {
		t.Errorf("Expected Z=0.5, got Z=%f", cmd.GetParameter('Z', 0))
	}
}

func TestParseComments(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		input   string
		comment string
		cmdType byte
	}{
		{"; This is a comment", "; This is a comment", 0},
		{"G0 X10 ; Move to X10", "; Move to X10", 'G'},
		{"(This is a comment)", "(This is a comment)", 0},
	}

	for _, test := range tests {
		cmd, err := parser.ParseLine(test.input)
		if err != nil {
			t.Errorf("Failed to parse '%s': %v", test.input, err)
			continue
		}

		if cmd == nil {
			t.Errorf("Got nil command for '%s'", test.input)
			continue
		}

		if cmd.Comment != test.comment {
			t.Errorf("Expected comment %q, got %q", test.comment, cmd.Comment)
		}
		if cmd.Type != test.cmdType {
			t.Errorf("Expected type %q, got %q for '%s'", test.cmdType, cmd.Type, test.input)
		}
	}
}

func TestParseLowercase(t *testing.T) {
	parser := NewParser()

	cmd, err := parser.ParseLine("g1 x10 y20")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}

	if cmd.Type != 'G' {
		t.Errorf("Expected type G, got %c", cmd.Type)
	}

	if cmd.Number != 1 {
		t.Errorf("Expected number 1, got %d", cmd.Number)
	}

	if cmd.GetParameter('X', 0) != 10 {
		t.Errorf("Expected X=10, got X=%f", cmd.GetParameter('X', 0))
	}
	if cmd.Name() != "G1" {
		t.Errorf("Expected name G1, got %s", cmd.Name())
	}
}

func TestParseEmptyLine(t *testing.T) {
	parser := NewParser()

	for _, line := range []string{"", "   ", "\t\r\n"} {
		cmd, err := parser.ParseLine(line)
		if err != nil {
			t.Errorf("Empty line should not error: %v", err)
		}

		if cmd != nil {
			t.Errorf("Empty line %q should return nil command", line)
		}
	}
}

func TestParseErrors(t *testing.T) {
	parser := NewParser()

	for _, line := range []string{
		"G",
		"G1 X1.2.3",
		"G1 X10 #",
		"N G1",
		"G1 X-",
	} {
		if _, err := parser.ParseLine(line); err == nil {
			t.Errorf("Expected error for %q", line)
		}
	}
}
