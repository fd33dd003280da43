package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/banshee-data/signal.report/internal/alert"
	"github.com/banshee-data/signal.report/internal/config"
	"github.com/banshee-data/signal.report/internal/db"
	"github.com/banshee-data/signal.report/internal/frames"
	"github.com/banshee-data/signal.report/internal/health"
	"github.com/banshee-data/signal.report/internal/httputil"
	"github.com/banshee-data/signal.report/internal/lane"
	"github.com/banshee-data/signal.report/internal/orchestrator"
	"github.com/banshee-data/signal.report/internal/perception"
	"github.com/banshee-data/signal.report/internal/serialmux"
	"github.com/banshee-data/signal.report/internal/signal"
	"github.com/banshee-data/signal.report/internal/timeutil"
	"github.com/banshee-data/signal.report/internal/vision"
)

const (
	cameraTimeout  = 10 * time.Second
	webhookTimeout = 10 * time.Second
)

// application is everything run needs after wiring.
type application struct {
	orchestrator *orchestrator.Orchestrator
	ports        []serialmux.SerialMuxInterface
}

func (a *application) close() {
	for _, p := range a.ports {
		if err := p.Close(); err != nil {
			log.Printf("failed to close serial port: %v", err)
		}
	}
}

func build(cfg *config.Config, opts *options, journal *db.DB, hs *health.Server) (*application, error) {
	lanes, err := cfg.Lanes()
	if err != nil {
		return nil, err
	}
	clock := timeutil.RealClock{}
	app := &application{}

	actuator, err := buildActuator(app, cfg, opts, lanes)
	if err != nil {
		app.close()
		return nil, err
	}

	sinks, err := buildSinks(app, cfg, opts, journal, clock)
	if err != nil {
		app.close()
		return nil, err
	}

	deps := orchestrator.Deps{
		Actuator:   actuator,
		Source:     buildSource(cfg, opts, lanes, clock),
		Classifier: buildClassifier(cfg, opts),
		Dispatcher: alert.NewDispatcher(cfg.GetQueueSize(), sinks...),
		Journal:    journal,
	}
	if hs != nil {
		deps.Health = hs
	}

	o, err := orchestrator.New(orchestrator.Options{
		Lanes:               lanes,
		StartLane:           cfg.GetDefaultLane(),
		Decision:            cfg.DecisionConfig(),
		Timing:              cfg.SignalTiming(),
		Worker:              cfg.WorkerConfig(),
		Tick:                cfg.GetTick(),
		CaptureInterval:     cfg.GetCaptureInterval(),
		SnapshotInterval:    cfg.GetSnapshotInterval(),
		CongestionThreshold: cfg.GetCongestionThreshold(),
		Clock:               clock,
		Location:            cfg.GetLocation(),
	}, deps)
	if err != nil {
		app.close()
		return nil, err
	}
	app.orchestrator = o
	return app, nil
}

// buildActuator opens the relay board, or logs the lights in dev mode and
// when no board is configured.
func buildActuator(app *application, cfg *config.Config, opts *options, lanes lane.Set) (signal.Actuator, error) {
	if opts.devMode || cfg.Signals == nil || cfg.Signals.Port == "" {
		log.Printf("no relay board in use, lights are logged only")
		return signal.LogActuator{}, nil
	}

	relay, err := serialmux.NewRealSerialMux(cfg.Signals.Port, cfg.Signals.Serial, serialmux.Options{Name: "relay"})
	if err != nil {
		return nil, fmt.Errorf("failed to open relay board: %w", err)
	}
	app.ports = append(app.ports, relay)
	if err := relay.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize relay board: %w", err)
	}
	log.Printf("initialized relay board on %s", cfg.Signals.Port)

	act, err := signal.NewSerialActuator(relay, lanes, cfg.SignalPins())
	if err != nil {
		return nil, err
	}
	if err := act.Reset(); err != nil {
		return nil, fmt.Errorf("failed to reset relay outputs: %w", err)
	}
	return act, nil
}

func buildSinks(app *application, cfg *config.Config, opts *options, journal *db.DB, clock timeutil.Clock) ([]alert.Sink, error) {
	sinks := []alert.Sink{alert.LogSink{}, alert.NewJournalSink(journal)}

	if len(cfg.Alerts.Contacts) > 0 {
		var modem serialmux.SerialMuxInterface
		switch {
		case opts.devMode || cfg.Alerts.ModemPort == "":
			modem = serialmux.NewDisabledSerialMux("modem")
		default:
			m, err := serialmux.NewRealSerialMux(cfg.Alerts.ModemPort,
				serialmux.PortOptions{BaudRate: cfg.GetModemBaudRate()},
				serialmux.Options{Name: "modem", Terminator: "\r", InitCommands: []string{"AT"}})
			if err != nil {
				return nil, fmt.Errorf("failed to open modem: %w", err)
			}
			modem = m
		}
		app.ports = append(app.ports, modem)
		if err := modem.Initialize(); err != nil {
			return nil, fmt.Errorf("failed to initialize modem: %w", err)
		}
		sinks = append(sinks, alert.NewSMSSink(modem, cfg.Alerts.Contacts, clock))
	}

	if cfg.Alerts.WebhookURL != "" {
		key := os.Getenv(cfg.GetWebhookKeyEnv())
		sinks = append(sinks, alert.NewWebhookSink(httputil.NewClient(webhookTimeout), cfg.Alerts.WebhookURL, key))
	}
	return sinks, nil
}

func buildSource(cfg *config.Config, opts *options, lanes lane.Set, clock timeutil.Clock) frames.Source {
	if opts.fixtures != "" {
		src, err := frames.NewDirSource(opts.fixtures, lanes, clock)
		if err == nil {
			log.Printf("replaying frames from %s", opts.fixtures)
			return src
		}
		log.Printf("fixtures unusable, synthesizing frames: %v", err)
		return frames.NewSynthetic(clock)
	}
	if opts.devMode || len(cfg.Cameras) == 0 {
		return frames.NewSynthetic(clock)
	}
	return frames.NewHTTPSource(httputil.NewClient(cameraTimeout), cfg.CameraURLs(), clock)
}

func buildClassifier(cfg *config.Config, opts *options) *vision.Classifier {
	parser := perception.NewParser(cfg.GetEmergencyConfidence())
	vc := cfg.VisionConfig(os.Getenv)
	if opts.devMode || vc.APIKey == "" {
		log.Printf("using simulated vision responses")
		return vision.NewClassifier(vision.NewSimulated(uint64(time.Now().UnixNano())), parser)
	}
	return vision.NewClassifier(vision.NewClient(httputil.NewClient(cfg.GetClassifierTimeout()), vc), parser)
}
