// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// Setup sets the level (debug, info, warn, error) and the format (text or
// json) of the standard logger, writing to stderr.
func Setup(level, format string) error {
	return SetupOutput(os.Stderr, level, format)
}

// SetupOutput is Setup with an explicit writer.
func SetupOutput(w io.Writer, level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}

	switch format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	log.SetOutput(w)
	log.SetLevel(lvl)
	return nil
}
