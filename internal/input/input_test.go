package input

import (
	"testing"
	"time"
)

func TestNormalizeMapsAndTags(t *testing.T) {
	var got []Event
	h := Normalize(Mapping{3: 17}, SourceSerial, func(ev Event) { got = append(got, ev) })

	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h(RawEvent{Input: 3, Kind: Down, Time: ts})

	if len(got) != 1 {
		t.Fatalf("events: got %d, want 1", len(got))
	}
	want := Event{Pin: 17, Kind: Down, Source: SourceSerial, Time: ts}
	if got[0] != want {
		t.Errorf("event: got %+v, want %+v", got[0], want)
	}
}

func TestNormalizeDropsUnmapped(t *testing.T) {
	called := false
	h := Normalize(Mapping{3: 17}, SourceSerial, func(Event) { called = true })

	h(RawEvent{Input: 8, Kind: Down, Time: time.Now()})
	if called {
		t.Error("unmapped input should be dropped")
	}
}

func TestSerialMappingSortsCoursePins(t *testing.T) {
	clearInput := 9
	l := Layout{CoursePins: []Pin{27, 17, 22}, ClearPin: 5}
	m := SerialMapping(l, []int{0, 1, 2, 3}, &clearInput)

	want := Mapping{0: 17, 1: 22, 2: 27, 9: 5}
	if len(m) != len(want) {
		t.Fatalf("mapping: got %v, want %v", m, want)
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("input %d: got %d, want %d", k, m[k], v)
		}
	}
}

func TestSerialMappingWithoutClearInput(t *testing.T) {
	l := Layout{CoursePins: []Pin{17}, ClearPin: 5}
	m := SerialMapping(l, []int{4}, nil)
	if len(m) != 1 || m[4] != 17 {
		t.Errorf("mapping: got %v", m)
	}
}

func TestIdentityMapping(t *testing.T) {
	l := Layout{CoursePins: []Pin{17, 27}, ClearPin: 22}
	m := IdentityMapping(l)
	for _, p := range []Pin{17, 27, 22} {
		if m[int(p)] != p {
			t.Errorf("pin %d: got %d", p, m[int(p)])
		}
	}
	if _, ok := m[4]; ok {
		t.Error("pin 4 should be unmapped")
	}
}

func TestKeyMapping(t *testing.T) {
	m := KeyMapping(map[string]Pin{"A": 17, "b": 27, "too-long": 99}, "enter", 22)

	tests := []struct {
		key  rune
		want Pin
		ok   bool
	}{
		{'a', 17, true},
		{'b', 27, true},
		{'\r', 22, true},
		{'\n', 22, true},
		{'c', 0, false},
	}
	for _, tt := range tests {
		got, ok := m[int(tt.key)]
		if ok != tt.ok || got != tt.want {
			t.Errorf("key %q: got (%d, %v), want (%d, %v)", tt.key, got, ok, tt.want, tt.ok)
		}
	}
	if len(m) != 4 {
		t.Errorf("mapping size: got %d, want 4", len(m))
	}
}

func TestKeyMappingSingleCharClearKey(t *testing.T) {
	m := KeyMapping(nil, "C", 22)
	if m['c'] != 22 {
		t.Errorf("clear key c: got %d, want 22", m['c'])
	}
}

func TestDefaultKeys(t *testing.T) {
	l := Layout{CoursePins: []Pin{27, 17}, ClearPin: 22}
	keys := DefaultKeys(l)
	if keys["1"] != 17 || keys["2"] != 27 || len(keys) != 2 {
		t.Errorf("keys: got %v", keys)
	}
}

func TestLayoutValidate(t *testing.T) {
	tests := []struct {
		name    string
		layout  Layout
		wantErr bool
	}{
		{"empty course pins", Layout{ClearPin: 0}, false},
		{"valid", Layout{CoursePins: []Pin{17, 27}, ClearPin: 22}, false},
		{"duplicate", Layout{CoursePins: []Pin{17, 17}, ClearPin: 22}, true},
		{"clear is course", Layout{CoursePins: []Pin{17}, ClearPin: 17}, true},
		{"negative", Layout{CoursePins: []Pin{-1}, ClearPin: 22}, true},
		{"negative clear", Layout{ClearPin: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.layout.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("got %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLayoutPins(t *testing.T) {
	l := Layout{CoursePins: []Pin{27, 17}, ClearPin: 22}
	got := l.Pins()
	want := []Pin{17, 27, 22}
	if len(got) != len(want) {
		t.Fatalf("pins: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pin %d: got %d, want %d", i, got[i], want[i])
		}
	}
	if l.CoursePins[0] != 27 {
		t.Error("Pins must not reorder the layout in place")
	}
}

func TestDisabledSource(t *testing.T) {
	d := &Disabled{Backend: "simulation"}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	info := d.Info()
	if info.Backend != "simulation" || info.Active {
		t.Errorf("info: got %+v", info)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
