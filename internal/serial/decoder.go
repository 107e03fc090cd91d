// Package serial provides the button source for an Arduino that relays its
// inputs over a serial line.
//
// Two line grammars are understood:
//
//	BTN:<index>:<DOWN|UP>   a single edge on one input
//	STATE:<bits>            the level of every input, one '0' or '1' each
//
// A STATE line is edge-detected against the last known levels, so inputs
// whose bit did not change produce nothing.
package serial

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultInputCount is the number of inputs the stock firmware reports.
const DefaultInputCount = 10

// ErrMalformed is returned for lines that do not match either grammar.
var ErrMalformed = errors.New("malformed line")

// Change is one decoded edge.
type Change struct {
	Index int
	Down  bool
}

// Decoder parses lines and tracks the last known level of every input.
// Not safe for concurrent use.
type Decoder struct {
	state []bool
}

// NewDecoder creates a Decoder for count inputs, all initially up.
func NewDecoder(count int) *Decoder {
	if count <= 0 {
		count = DefaultInputCount
	}
	return &Decoder{state: make([]bool, count)}
}

// State returns the last known levels as a bit string.
func (d *Decoder) State() string {
	var b strings.Builder
	for _, down := range d.state {
		if down {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// Decode parses one line. Blank lines yield no changes and no error.
// A malformed line leaves the known state untouched.
func (d *Decoder) Decode(line string) ([]Change, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil, nil
	case strings.HasPrefix(line, "BTN:"):
		return d.decodeButton(line)
	case strings.HasPrefix(line, "STATE:"):
		return d.decodeState(strings.TrimPrefix(line, "STATE:"))
	}
	return nil, fmt.Errorf("%w: unknown prefix in %q", ErrMalformed, line)
}

func (d *Decoder) decodeButton(line string) ([]Change, error) {
	parts := strings.Split(line, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: want 3 fields, got %d in %q", ErrMalformed, len(parts), line)
	}
	idx, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: index %q is not a number", ErrMalformed, parts[1])
	}
	if idx < 0 || idx >= len(d.state) {
		return nil, fmt.Errorf("%w: index %d out of range [0,%d)", ErrMalformed, idx, len(d.state))
	}
	var down bool
	switch strings.ToLower(parts[2]) {
	case "down":
		down = true
	case "up":
		down = false
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", ErrMalformed, parts[2])
	}
	d.state[idx] = down
	return []Change{{Index: idx, Down: down}}, nil
}

func (d *Decoder) decodeState(bits string) ([]Change, error) {
	if len(bits) != len(d.state) {
		return nil, fmt.Errorf("%w: bitmask length %d, want %d", ErrMalformed, len(bits), len(d.state))
	}
	for i := 0; i < len(bits); i++ {
		if bits[i] != '0' && bits[i] != '1' {
			return nil, fmt.Errorf("%w: bitmask %q is not binary", ErrMalformed, bits)
		}
	}

	var changes []Change
	for i := 0; i < len(bits); i++ {
		down := bits[i] == '1'
		if down == d.state[i] {
			continue
		}
		d.state[i] = down
		changes = append(changes, Change{Index: i, Down: down})
	}
	return changes, nil
}
