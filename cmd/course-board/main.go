// Command course-board reads course buttons from GPIO, a serial Arduino or
// the keyboard and shows the selected courses on a live web board.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/course-board/internal/audit"
	"github.com/sweeney/course-board/internal/broadcast"
	"github.com/sweeney/course-board/internal/config"
	"github.com/sweeney/course-board/internal/dispatch"
	"github.com/sweeney/course-board/internal/gpio"
	"github.com/sweeney/course-board/internal/input"
	"github.com/sweeney/course-board/internal/keyboard"
	"github.com/sweeney/course-board/internal/logging"
	"github.com/sweeney/course-board/internal/logic"
	"github.com/sweeney/course-board/internal/mqtt"
	"github.com/sweeney/course-board/internal/serial"
	"github.com/sweeney/course-board/internal/status"
	"github.com/sweeney/course-board/internal/store"
	"github.com/sweeney/course-board/internal/web"
)

const (
	shutdownTimeout = 5 * time.Second
	backendPoll     = 2 * time.Second
)

// flagOverrides holds command-line values that take precedence over the
// config file and environment. Zero values mean "not set".
type flagOverrides struct {
	backend  string
	httpAddr string
	dataDir  string
	debounce time.Duration // negative means not set
	logLevel string
}

func main() {
	configPath := flag.String("config", "", "Config file (.toml, .yaml, .yml or .json)")
	backend := flag.String("backend", "", "Input backend: gpio, serial, keyboard or disabled")
	httpAddr := flag.String("http", "", "HTTP listen address (empty keeps the configured one)")
	dataDir := flag.String("data", "", "Directory holding gpio_map.json and courses.json")
	debounce := flag.Duration("debounce", -1, "GPIO debounce window")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error")
	printState := flag.Bool("print-state", false, "Print the pin layout and input backend, then exit")
	hashPassword := flag.String("hash-password", "", "Print a bcrypt hash of the given admin password and exit")

	flag.Parse()

	if *hashPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*hashPassword), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("fatal: %v", err)
		}
		fmt.Println(string(hash))
		return
	}

	cfg, err := loadConfig(*configPath, flagOverrides{
		backend:  *backend,
		httpAddr: *httpAddr,
		dataDir:  *dataDir,
		debounce: *debounce,
		logLevel: *logLevel,
	})
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if err := run(cfg, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// loadConfig layers the file, the environment and the flags, then validates.
func loadConfig(path string, fl flagOverrides) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()

	if fl.backend != "" {
		cfg.Backend = fl.backend
	}
	if fl.httpAddr != "" {
		cfg.HTTPAddr = fl.httpAddr
	}
	if fl.dataDir != "" {
		cfg.DataDir = fl.dataDir
	}
	if fl.debounce >= 0 {
		cfg.GPIO.DebounceMs = int(fl.debounce.Milliseconds())
	}
	if fl.logLevel != "" {
		cfg.Logging.Level = fl.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.Config, printState bool) error {
	if err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	layout, err := store.LoadLayout(cfg.LayoutFile())
	if err != nil {
		return fmt.Errorf("load layout: %w", err)
	}
	courses, err := store.Open(cfg.CoursesFile(), layout)
	if err != nil {
		return fmt.Errorf("open courses: %w", err)
	}
	if err := applySerialSettings(cfg); err != nil {
		return fmt.Errorf("load serial settings: %w", err)
	}

	if printState {
		src, err := newSource(cfg, layout, func(input.Event) {}, nil)
		if err != nil {
			return err
		}
		return writeState(os.Stdout, layout, backendInfo(src, layout), courses.Courses())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	aw, err := openAudit(cfg)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		Backend:      cfg.Backend,
		DebounceMs:   int64(cfg.GPIO.DebounceMs),
		AuditBackend: cfg.Audit.Backend,
		Broker:       cfg.MQTT.Broker,
		Topic:        cfg.MQTT.Topic,
		HTTPAddr:     cfg.HTTPAddr,
	}, layout)
	fanout := broadcast.New(0)
	d := dispatch.New(dispatch.Config{
		ClearPin: layout.ClearPin,
		Catalog:  courses,
		Audit:    aw,
		Fanout:   fanout,
		Status:   tracker,
	})

	// Raw terminal mode swallows Ctrl-C; route it back through sigCh.
	interrupt := func() {
		select {
		case sigCh <- syscall.SIGINT:
		default:
		}
	}
	src, err := newInputController(cfg, layout, d.Submit, interrupt, d.SetBackend)
	if err != nil {
		aw.Close()
		return err
	}
	d.SetBackend(backendInfo(src, layout))

	var pub mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		rp, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:             cfg.MQTT.Broker,
			Topic:              cfg.MQTT.Topic,
			ClientID:           cfg.MQTT.ClientID,
			BufferSize:         cfg.MQTT.BufferSize,
			OnConnectionChange: tracker.SetMQTTConnected,
		})
		if err != nil {
			aw.Close()
			return fmt.Errorf("init mqtt: %w", err)
		}
		pub, mqttStatus = rp, rp
	}

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	go d.Run(dispatchCtx)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	g, gctx := errgroup.WithContext(runCtx)

	if pub != nil {
		if _, err := d.Subscribe(gctx, mqtt.NewSink(pub, 0)); err != nil {
			log.Errorf("mqtt: subscribe: %v", err)
		}
		publishSystem(pub, mqttStatus, tracker, "STARTUP", "")
	}

	g.Go(func() error {
		return courses.Watch(gctx, func() {
			log.Info("courses file changed, reloaded")
			if err := d.CoursesUpdated(gctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warnf("broadcast courses_updated: %v", err)
			}
		})
	})

	if cfg.HTTPAddr != "" {
		srv := web.New(web.Config{
			Addr:      cfg.HTTPAddr,
			Title:     cfg.Title,
			Board:     d,
			Courses:   courses,
			Audit:     aw,
			Inputs:    src,
			AdminUser: cfg.Admin.User,
			AdminHash: cfg.Admin.PasswordHash,
		})
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		})
		log.Infof("http server listening on %s", cfg.HTTPAddr)
	}

	if err := src.Start(); err != nil {
		log.Errorf("start %s input: %v", cfg.Backend, err)
	}
	g.Go(func() error {
		watchBackend(gctx, src, layout, d.SetBackend, backendPoll)
		return nil
	})
	log.WithFields(log.Fields{
		"backend":     cfg.Backend,
		"course_pins": layout.CoursePins,
		"clear_pin":   layout.ClearPin,
		"audit":       cfg.Audit.Backend,
		"broker":      cfg.MQTT.Broker,
	}).Info("started")

	var heartbeat <-chan time.Time
	if pub != nil && cfg.MQTT.HeartbeatSec > 0 {
		ticker := time.NewTicker(time.Duration(cfg.MQTT.HeartbeatSec) * time.Second)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	reason := runLoop(gctx, pub, mqttStatus, tracker, heartbeat, sigCh)
	log.Infof("shutting down (%s)", reason)

	// Stop inputs first so every accepted edge reaches the dispatcher,
	// then let it drain before the final status is published.
	if err := src.Stop(); err != nil {
		log.Warnf("stop input: %v", err)
	}
	stopRun()
	runErr := g.Wait()
	stopDispatch()
	<-d.Done()

	if pub != nil {
		publishSystem(pub, mqttStatus, tracker, "SHUTDOWN", reason)
	}
	fanout.Close()
	if err := aw.Close(); err != nil {
		log.Warnf("close audit log: %v", err)
	}
	if pub != nil {
		pub.Close()
	}
	return runErr
}

// runLoop blocks until a signal arrives or ctx is done, publishing a
// heartbeat on every tick. It returns the shutdown reason.
func runLoop(ctx context.Context, pub mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat <-chan time.Time, sig <-chan os.Signal) string {
	for {
		select {
		case s := <-sig:
			log.Infof("received %v", s)
			return signalName(s)
		case <-ctx.Done():
			return "ERROR"
		case <-heartbeat:
			snap := tracker.Snapshot()
			log.WithFields(log.Fields{
				"uptime":  snap.Uptime().Truncate(time.Second),
				"pressed": len(snap.Pressed),
				"history": len(snap.History),
				"downs":   snap.Counts.ButtonDown,
			}).Info("heartbeat")
			publishSystem(pub, mqttStatus, tracker, "HEARTBEAT", "")
		}
	}
}

// publishSystem publishes a retained lifecycle event carrying the full
// status snapshot. Heartbeats are not retained.
func publishSystem(pub mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, event, reason string) {
	if pub == nil {
		return
	}
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
	snap := tracker.Snapshot()
	err := pub.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   event != "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		log.Warnf("failed to publish %s event: %v", event, err)
		return
	}
	log.Debugf("published %s event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// newSource builds the configured input backend, wired through the
// normalizer to submit.
func newSource(cfg *config.Config, layout input.Layout, submit func(input.Event), interrupt func()) (input.Source, error) {
	switch cfg.Backend {
	case config.BackendGPIO:
		pull, err := gpio.ParsePull(cfg.GPIO.Pull)
		if err != nil {
			return nil, err
		}
		mapping := input.IdentityMapping(layout)
		return gpio.New(gpio.Config{
			Chip:     cfg.GPIO.Chip,
			Pins:     layout.Pins(),
			Pull:     pull,
			Debounce: time.Duration(cfg.GPIO.DebounceMs) * time.Millisecond,
		}, input.Normalize(mapping, input.SourceGPIO, submit)), nil

	case config.BackendSerial:
		if len(cfg.Serial.CourseInputs) == 0 {
			log.Warn("serial backend has no course_inputs configured; course buttons are unmapped")
		}
		mapping := input.SerialMapping(layout, cfg.Serial.CourseInputs, cfg.Serial.ClearInput)
		return serial.New(serial.Config{
			Port:       cfg.Serial.Port,
			Baud:       cfg.Serial.Baud,
			InputCount: cfg.Serial.InputCount,
			Mapping:    mapping,
		}, input.Normalize(mapping, input.SourceSerial, submit)), nil

	case config.BackendKeyboard:
		keys := input.DefaultKeys(layout)
		if len(cfg.Keyboard.Keys) > 0 {
			keys = make(map[string]input.Pin, len(cfg.Keyboard.Keys))
			for k, p := range cfg.Keyboard.Keys {
				keys[k] = input.Pin(p)
			}
		}
		mapping := input.KeyMapping(keys, cfg.Keyboard.ClearKey, layout.ClearPin)
		return keyboard.New(keyboard.Config{
			PressDuration: time.Duration(cfg.Keyboard.PressMs) * time.Millisecond,
			Interrupt:     interrupt,
			Mapping:       mapping,
		}, input.Normalize(mapping, input.SourceKeyboard, submit)), nil

	case config.BackendDisabled:
		return &input.Disabled{Backend: cfg.Backend}, nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, cfg.Backend)
}

// backendInfo completes the source's self-description with the layout.
func backendInfo(src input.Source, layout input.Layout) input.BackendInfo {
	info := src.Info()
	info.CoursePins = layout.SortedCoursePins()
	info.ClearPin = layout.ClearPin
	return info
}

// watchBackend republishes the backend description whenever the source's
// active flag changes, e.g. when a serial port comes and goes.
func watchBackend(ctx context.Context, src input.Source, layout input.Layout, set func(input.BackendInfo), every time.Duration) {
	last := backendInfo(src, layout)
	set(last)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info := backendInfo(src, layout)
			if info.Active != last.Active {
				log.WithField("active", info.Active).Infof("%s input changed state", info.Backend)
				set(info)
				last = info
			}
		}
	}
}

func openAudit(cfg *config.Config) (audit.Writer, error) {
	path := cfg.AuditFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	switch cfg.Audit.Backend {
	case config.AuditSQLite:
		return audit.OpenSQLite(context.Background(), path, cfg.Audit.MaxEntries)
	default:
		return audit.OpenFile(path, cfg.Audit.MaxEntries)
	}
}

func writeState(w io.Writer, layout input.Layout, backend input.BackendInfo, courses []logic.Course) error {
	out := struct {
		CoursePins []input.Pin       `json:"course_pins"`
		ClearPin   input.Pin         `json:"clear_pin"`
		Backend    input.BackendInfo `json:"backend"`
		Courses    []logic.Course    `json:"courses"`
	}{
		CoursePins: layout.SortedCoursePins(),
		ClearPin:   layout.ClearPin,
		Backend:    backend,
		Courses:    courses,
	}
	if out.Courses == nil {
		out.Courses = []logic.Course{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
