package input

import (
	"errors"
	"fmt"
	"sort"
)

// Layout is the fixed set of canonical pins for the process lifetime.
type Layout struct {
	CoursePins []Pin `json:"course_pins"`
	ClearPin   Pin   `json:"clear_pin"`
}

// Validate checks for negative and duplicate pins.
func (l Layout) Validate() error {
	if l.ClearPin < 0 {
		return fmt.Errorf("clear pin %d is negative", l.ClearPin)
	}
	seen := make(map[Pin]bool, len(l.CoursePins))
	for _, p := range l.CoursePins {
		if p < 0 {
			return fmt.Errorf("course pin %d is negative", p)
		}
		if p == l.ClearPin {
			return errors.New("clear pin is also listed as a course pin")
		}
		if seen[p] {
			return fmt.Errorf("course pin %d listed twice", p)
		}
		seen[p] = true
	}
	return nil
}

// SortedCoursePins returns the course pins in ascending order.
func (l Layout) SortedCoursePins() []Pin {
	pins := append([]Pin(nil), l.CoursePins...)
	sort.Slice(pins, func(i, j int) bool { return pins[i] < pins[j] })
	return pins
}

// Pins returns every monitored pin: the sorted course pins followed by the clear pin.
func (l Layout) Pins() []Pin {
	return append(l.SortedCoursePins(), l.ClearPin)
}
