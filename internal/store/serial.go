package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// SerialSettings is the Arduino wiring saved from the admin page. Field
// names match the arduino_config.json files of earlier deployments.
type SerialSettings struct {
	SerialPort   string `json:"serial_port"`
	BaudRate     int    `json:"baud_rate"`
	CourseInputs []int  `json:"course_inputs"`
	ClearInput   *int   `json:"clear_input"`
	InputCount   int    `json:"input_count"`
}

// DefaultSerialSettings is what an admin update starts from before the
// request body is applied.
func DefaultSerialSettings() SerialSettings {
	return SerialSettings{
		SerialPort:   "/dev/ttyACM0",
		BaudRate:     9600,
		CourseInputs: []int{},
		InputCount:   10,
	}
}

// LoadSerialSettings reads path. A missing file reports ok=false and no error.
func LoadSerialSettings(path string) (s SerialSettings, ok bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return SerialSettings{}, false, nil
	}
	if err != nil {
		return SerialSettings{}, false, fmt.Errorf("read serial settings: %w", err)
	}
	s = DefaultSerialSettings()
	if err := json.Unmarshal(data, &s); err != nil {
		return SerialSettings{}, false, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, true, nil
}

// SaveSerialSettings replaces path atomically.
func SaveSerialSettings(path string, s SerialSettings) error {
	if s.CourseInputs == nil {
		s.CourseInputs = []int{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(data, '\n'))
}
