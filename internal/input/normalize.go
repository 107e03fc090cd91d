package input

import (
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

// Mapping translates a backend-native input identifier to a canonical pin.
type Mapping map[int]Pin

// IdentityMapping maps every layout pin to itself. The GPIO backend reports
// line offsets that already are canonical pins.
func IdentityMapping(l Layout) Mapping {
	m := make(Mapping, len(l.CoursePins)+1)
	for _, p := range l.Pins() {
		m[int(p)] = p
	}
	return m
}

// SerialMapping assigns courseInputs[i] to the i-th course pin in ascending
// order, and clearInput (if set) to the clear pin. Extra inputs on either
// side are left unmapped.
func SerialMapping(l Layout, courseInputs []int, clearInput *int) Mapping {
	m := make(Mapping, len(courseInputs)+1)
	pins := l.SortedCoursePins()
	for i, in := range courseInputs {
		if i >= len(pins) {
			break
		}
		m[in] = pins[i]
	}
	if clearInput != nil {
		m[*clearInput] = l.ClearPin
	}
	return m
}

// KeyMapping maps keyboard runes to pins. Keys are matched case-insensitively.
// A clear key of "enter" matches both carriage return and newline.
func KeyMapping(keys map[string]Pin, clearKey string, clearPin Pin) Mapping {
	m := make(Mapping, len(keys)+2)
	for k, p := range keys {
		if r, ok := singleRune(k); ok {
			m[int(r)] = p
		}
	}
	switch strings.ToLower(clearKey) {
	case "enter", "return":
		m['\r'] = clearPin
		m['\n'] = clearPin
	case "space":
		m[' '] = clearPin
	default:
		if r, ok := singleRune(clearKey); ok {
			m[int(r)] = clearPin
		}
	}
	return m
}

// DefaultKeys binds the digit keys 1..9 then 0 to the course pins in
// ascending order.
func DefaultKeys(l Layout) map[string]Pin {
	const digits = "1234567890"
	keys := make(map[string]Pin)
	for i, p := range l.SortedCoursePins() {
		if i >= len(digits) {
			break
		}
		keys[digits[i:i+1]] = p
	}
	return keys
}

func singleRune(s string) (rune, bool) {
	s = strings.ToLower(s)
	if utf8.RuneCountInString(s) != 1 {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, true
}

// Normalize wraps next so that raw events from one backend are translated
// through mapping and tagged with source. Unmapped inputs are dropped: a
// device may expose more inputs than the layout uses.
func Normalize(mapping Mapping, source SourceKind, next func(Event)) Handler {
	return func(raw RawEvent) {
		pin, ok := mapping[raw.Input]
		if !ok {
			log.WithFields(log.Fields{"source": source, "input": raw.Input}).Debug("unmapped input dropped")
			return
		}
		next(Event{Pin: pin, Kind: raw.Kind, Source: source, Time: raw.Time})
	}
}
