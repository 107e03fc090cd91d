package main

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/course-board/internal/config"
	"github.com/sweeney/course-board/internal/input"
	"github.com/sweeney/course-board/internal/store"
)

// inputController owns the running input source. It satisfies
// input.Source so the rest of run can treat it as one, and rebuilds the
// serial source when its wiring is changed from the admin page.
type inputController struct {
	layout       input.Layout
	submit       func(input.Event)
	interrupt    func()
	setBackend   func(input.BackendInfo)
	settingsPath string

	mu      sync.Mutex
	cfg     config.Config
	src     input.Source
	started bool
	stopped bool
}

func newInputController(cfg *config.Config, layout input.Layout, submit func(input.Event), interrupt func(), setBackend func(input.BackendInfo)) (*inputController, error) {
	c := &inputController{
		layout:       layout,
		submit:       submit,
		interrupt:    interrupt,
		setBackend:   setBackend,
		settingsPath: cfg.SerialSettingsFile(),
		cfg:          *cfg,
	}
	src, err := newSource(&c.cfg, layout, submit, interrupt)
	if err != nil {
		return nil, err
	}
	c.src = src
	return c, nil
}

func (c *inputController) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return c.src.Start()
}

// Stop stops the current source. Later serial updates are still saved but
// no longer restart anything.
func (c *inputController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return c.src.Stop()
}

func (c *inputController) Info() input.BackendInfo {
	c.mu.Lock()
	src := c.src
	c.mu.Unlock()
	return src.Info()
}

// SerialSettings returns the serial wiring currently in effect.
func (c *inputController) SerialSettings() store.SerialSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return serialSettingsFrom(c.cfg.Serial)
}

// UpdateSerial validates and saves s, then restarts the source if the
// serial backend is running. Invalid settings wrap config.ErrInvalid.
func (c *inputController) UpdateSerial(s store.SerialSettings) error {
	sc := serialConfigFrom(s)
	if err := sc.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := store.SaveSerialSettings(c.settingsPath, s); err != nil {
		return fmt.Errorf("save serial settings: %w", err)
	}
	c.cfg.Serial = sc
	log.WithFields(log.Fields{
		"port":          sc.Port,
		"baud":          sc.Baud,
		"course_inputs": sc.CourseInputs,
	}).Info("serial settings updated")

	if c.cfg.Backend != config.BackendSerial || c.stopped {
		return nil
	}

	if err := c.src.Stop(); err != nil {
		log.Warnf("stop serial input: %v", err)
	}
	next, err := newSource(&c.cfg, c.layout, c.submit, c.interrupt)
	if err != nil {
		return err
	}
	c.src = next
	if c.started {
		if err := next.Start(); err != nil {
			log.Errorf("restart serial input: %v", err)
		}
	}
	if c.setBackend != nil {
		c.setBackend(backendInfo(next, c.layout))
	}
	return nil
}

// applySerialSettings overlays a previously saved serial wiring on cfg.
func applySerialSettings(cfg *config.Config) error {
	path := cfg.SerialSettingsFile()
	s, ok, err := store.LoadSerialSettings(path)
	if err != nil || !ok {
		return err
	}
	sc := serialConfigFrom(s)
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	cfg.Serial = sc
	log.WithField("path", path).Info("using saved serial settings")
	return nil
}

func serialConfigFrom(s store.SerialSettings) config.SerialConfig {
	return config.SerialConfig{
		Port:         s.SerialPort,
		Baud:         s.BaudRate,
		InputCount:   s.InputCount,
		CourseInputs: append([]int(nil), s.CourseInputs...),
		ClearInput:   s.ClearInput,
	}
}

func serialSettingsFrom(sc config.SerialConfig) store.SerialSettings {
	s := store.SerialSettings{
		SerialPort:   sc.Port,
		BaudRate:     sc.Baud,
		CourseInputs: append([]int{}, sc.CourseInputs...),
		InputCount:   sc.InputCount,
	}
	if sc.ClearInput != nil {
		ci := *sc.ClearInput
		s.ClearInput = &ci
	}
	return s
}
