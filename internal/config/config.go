// Package config loads daemon configuration from a TOML, YAML or JSON
// file, then applies environment and command-line overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Input backends.
const (
	BackendGPIO     = "gpio"
	BackendSerial   = "serial"
	BackendKeyboard = "keyboard"
	BackendDisabled = "disabled"
)

// Audit backends.
const (
	AuditFile   = "file"
	AuditSQLite = "sqlite"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Backend selects the input source: gpio, serial, keyboard or disabled.
	Backend  string `toml:"backend" json:"backend" yaml:"backend"`
	HTTPAddr string `toml:"http_addr" json:"http_addr" yaml:"http_addr"`
	Title    string `toml:"title" json:"title" yaml:"title"`

	// DataDir holds the layout and course files unless their paths are set.
	DataDir     string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`
	LayoutPath  string `toml:"layout_path" json:"layout_path" yaml:"layout_path"`
	CoursesPath string `toml:"courses_path" json:"courses_path" yaml:"courses_path"`

	GPIO     GPIOConfig     `toml:"gpio" json:"gpio" yaml:"gpio"`
	Serial   SerialConfig   `toml:"serial" json:"serial" yaml:"serial"`
	Keyboard KeyboardConfig `toml:"keyboard" json:"keyboard" yaml:"keyboard"`
	Audit    AuditConfig    `toml:"audit" json:"audit" yaml:"audit"`
	MQTT     MQTTConfig     `toml:"mqtt" json:"mqtt" yaml:"mqtt"`
	Admin    AdminConfig    `toml:"admin" json:"admin" yaml:"admin"`
	Logging  LoggingConfig  `toml:"logging" json:"logging" yaml:"logging"`
}

// GPIOConfig configures the character-device GPIO backend.
type GPIOConfig struct {
	Chip string `toml:"chip" json:"chip" yaml:"chip"`
	// Pull is up, down or none.
	Pull       string `toml:"pull" json:"pull" yaml:"pull"`
	DebounceMs int    `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`
}

// SerialConfig configures the Arduino serial backend.
type SerialConfig struct {
	Port       string `toml:"port" json:"port" yaml:"port"`
	Baud       int    `toml:"baud" json:"baud" yaml:"baud"`
	InputCount int    `toml:"input_count" json:"input_count" yaml:"input_count"`
	// CourseInputs[i] is wired to the i-th course pin in ascending order.
	CourseInputs []int `toml:"course_inputs" json:"course_inputs" yaml:"course_inputs"`
	ClearInput   *int  `toml:"clear_input" json:"clear_input" yaml:"clear_input"`
}

// KeyboardConfig configures the terminal simulator.
type KeyboardConfig struct {
	// Keys maps a single character to a pin. Empty binds 1..9,0 to the
	// course pins in ascending order.
	Keys     map[string]int `toml:"keys" json:"keys" yaml:"keys"`
	ClearKey string         `toml:"clear_key" json:"clear_key" yaml:"clear_key"`
	PressMs  int            `toml:"press_ms" json:"press_ms" yaml:"press_ms"`
}

// AuditConfig configures the press log.
type AuditConfig struct {
	Backend    string `toml:"backend" json:"backend" yaml:"backend"`
	Path       string `toml:"path" json:"path" yaml:"path"`
	MaxEntries int    `toml:"max_entries" json:"max_entries" yaml:"max_entries"`
}

// MQTTConfig configures the optional MQTT mirror. An empty broker disables it.
type MQTTConfig struct {
	Broker     string `toml:"broker" json:"broker" yaml:"broker"`
	Topic      string `toml:"topic" json:"topic" yaml:"topic"`
	ClientID   string `toml:"client_id" json:"client_id" yaml:"client_id"`
	BufferSize int    `toml:"buffer_size" json:"buffer_size" yaml:"buffer_size"`
	// HeartbeatSec is the interval between HEARTBEAT system events; 0 disables.
	HeartbeatSec int `toml:"heartbeat_sec" json:"heartbeat_sec" yaml:"heartbeat_sec"`
}

// AdminConfig holds the admin credentials. PasswordHash is a bcrypt hash;
// an empty hash disables the admin endpoints.
type AdminConfig struct {
	User         string `toml:"user" json:"user" yaml:"user"`
	PasswordHash string `toml:"password_hash" json:"password_hash" yaml:"password_hash"`
}

// LoggingConfig configures logrus.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`
	Format string `toml:"format" json:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend:  BackendGPIO,
		HTTPAddr: ":8000",
		Title:    "KDG Course Board",
		DataDir:  "data",
		GPIO: GPIOConfig{
			Chip:       "gpiochip0",
			Pull:       "up",
			DebounceMs: 50,
		},
		Serial: SerialConfig{
			Port:       "/dev/ttyACM0",
			Baud:       9600,
			InputCount: 10,
		},
		Keyboard: KeyboardConfig{
			ClearKey: "enter",
			PressMs:  50,
		},
		Audit: AuditConfig{
			Backend:    AuditFile,
			MaxEntries: 1000,
		},
		MQTT: MQTTConfig{
			Topic:        "courseboard",
			ClientID:     "course-board",
			BufferSize:   100,
			HeartbeatSec: 900,
		},
		Admin: AdminConfig{
			User: "admin",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file at path over the defaults. The format follows the
// extension: .toml, .yaml/.yml or .json. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown config format %q", ErrInvalid, ext)
	}
	return cfg, nil
}

// NormalizeBackend maps backend aliases to their canonical names:
// arduino is serial, and simulation or mock is disabled.
func NormalizeBackend(b string) string {
	switch b = strings.ToLower(strings.TrimSpace(b)); b {
	case "arduino":
		return BackendSerial
	case "simulation", "mock", "none":
		return BackendDisabled
	}
	return b
}

// Validate normalizes aliases and checks every field.
func (c *Config) Validate() error {
	c.Backend = NormalizeBackend(c.Backend)
	switch c.Backend {
	case BackendGPIO, BackendSerial, BackendKeyboard, BackendDisabled:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}

	switch c.GPIO.Pull {
	case "up", "down", "none":
	default:
		return fmt.Errorf("%w: gpio.pull must be up, down or none, got %q", ErrInvalid, c.GPIO.Pull)
	}
	if c.GPIO.DebounceMs < 0 {
		return fmt.Errorf("%w: gpio.debounce_ms must not be negative", ErrInvalid)
	}

	if err := c.Serial.Validate(); err != nil {
		return err
	}

	for k := range c.Keyboard.Keys {
		if len([]rune(k)) != 1 {
			return fmt.Errorf("%w: keyboard key %q must be a single character", ErrInvalid, k)
		}
	}

	switch c.Audit.Backend {
	case AuditFile, AuditSQLite:
	default:
		return fmt.Errorf("%w: audit.backend must be file or sqlite, got %q", ErrInvalid, c.Audit.Backend)
	}
	if c.Audit.MaxEntries <= 0 {
		return fmt.Errorf("%w: audit.max_entries must be positive", ErrInvalid)
	}

	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return fmt.Errorf("%w: mqtt.topic is required when a broker is set", ErrInvalid)
	}
	if c.MQTT.HeartbeatSec < 0 {
		return fmt.Errorf("%w: mqtt.heartbeat_sec must not be negative", ErrInvalid)
	}

	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format must be text or json, got %q", ErrInvalid, c.Logging.Format)
	}
	return nil
}

// Validate checks the serial wiring. Every input may be bound once: a
// course input listed twice, or also used as the clear input, is rejected.
func (s SerialConfig) Validate() error {
	if s.Port == "" {
		return fmt.Errorf("%w: serial.port is required", ErrInvalid)
	}
	if s.Baud <= 0 {
		return fmt.Errorf("%w: serial.baud must be positive", ErrInvalid)
	}
	if s.InputCount <= 0 {
		return fmt.Errorf("%w: serial.input_count must be positive", ErrInvalid)
	}
	seen := make(map[int]bool, len(s.CourseInputs))
	for _, in := range s.CourseInputs {
		if in < 0 || in >= s.InputCount {
			return fmt.Errorf("%w: serial course input %d out of range [0,%d)", ErrInvalid, in, s.InputCount)
		}
		if seen[in] {
			return fmt.Errorf("%w: serial course input %d listed twice", ErrInvalid, in)
		}
		seen[in] = true
	}
	if ci := s.ClearInput; ci != nil {
		if *ci < 0 || *ci >= s.InputCount {
			return fmt.Errorf("%w: serial clear input %d out of range [0,%d)", ErrInvalid, *ci, s.InputCount)
		}
		if seen[*ci] {
			return fmt.Errorf("%w: serial clear input %d is also a course input", ErrInvalid, *ci)
		}
	}
	return nil
}

// SerialSettingsFile returns the path of the serial wiring saved from the
// admin page. It lives next to the course list.
func (c *Config) SerialSettingsFile() string {
	return filepath.Join(filepath.Dir(c.CoursesFile()), "arduino_config.json")
}

// LayoutFile returns the pin layout path.
func (c *Config) LayoutFile() string {
	if c.LayoutPath != "" {
		return c.LayoutPath
	}
	return filepath.Join(c.DataDir, "gpio_map.json")
}

// CoursesFile returns the course list path.
func (c *Config) CoursesFile() string {
	if c.CoursesPath != "" {
		return c.CoursesPath
	}
	return filepath.Join(c.DataDir, "courses.json")
}

// AuditFile returns the press log path for the configured audit backend.
func (c *Config) AuditFile() string {
	if c.Audit.Path != "" {
		return c.Audit.Path
	}
	if c.Audit.Backend == AuditSQLite {
		return filepath.Join(c.DataDir, "presses.db")
	}
	return filepath.Join(c.DataDir, "presses.log")
}
