package config

import (
	"os"
	"strconv"
	"strings"
)

// ApplyEnvOverrides applies environment variable overrides. The
// INPUT_BACKEND, ARDUINO_*, GPIO_PULL_UP and ADMIN_* names are kept from
// earlier deployments; everything else is prefixed COURSEBOARD_.
func (c *Config) ApplyEnvOverrides() {
	c.Backend = getenvDefault("INPUT_BACKEND", c.Backend)
	c.HTTPAddr = getenvDefault("COURSEBOARD_HTTP_ADDR", c.HTTPAddr)
	c.DataDir = getenvDefault("COURSEBOARD_DATA_DIR", c.DataDir)

	c.Serial.Port = getenvDefault("ARDUINO_SERIAL_PORT", c.Serial.Port)
	c.Serial.Baud = getenvInt("ARDUINO_BAUD_RATE", c.Serial.Baud)

	if v := strings.TrimSpace(os.Getenv("GPIO_PULL_UP")); v != "" {
		if strings.EqualFold(v, "true") || v == "1" {
			c.GPIO.Pull = "up"
		} else {
			c.GPIO.Pull = "down"
		}
	}
	c.GPIO.DebounceMs = getenvInt("COURSEBOARD_DEBOUNCE_MS", c.GPIO.DebounceMs)

	c.Admin.User = getenvDefault("ADMIN_USER", c.Admin.User)
	c.Admin.PasswordHash = getenvDefault("ADMIN_PASSWORD_HASH", c.Admin.PasswordHash)

	c.Audit.Backend = getenvDefault("COURSEBOARD_AUDIT_BACKEND", c.Audit.Backend)
	c.MQTT.Broker = getenvDefault("COURSEBOARD_MQTT_BROKER", c.MQTT.Broker)
	c.Logging.Level = getenvDefault("COURSEBOARD_LOG_LEVEL", c.Logging.Level)
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
