package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/gousb"

	"github.com/signalsfoundry/chirp-ranging/driver/sim"
	"github.com/signalsfoundry/chirp-ranging/driver/usb"
	"github.com/signalsfoundry/chirp-ranging/history"
	"github.com/signalsfoundry/chirp-ranging/internal/logging"
	"github.com/signalsfoundry/chirp-ranging/internal/observability"
	"github.com/signalsfoundry/chirp-ranging/internal/ui"
	"github.com/signalsfoundry/chirp-ranging/ranging"
)

// runModem runs one role against a USB-attached ranging modem.
func runModem(ctx context.Context, role ranging.Role) error {
	log := logging.NewFromEnv()

	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	dev, err := usb.OpenDevice(usbCtx, flagSerial)
	if err != nil {
		log.Error(ctx, "failed to open ranging modem", logging.Error(err))
		return err
	}
	defer dev.Close()
	log.Info(ctx, "ranging modem opened",
		logging.String("serial", dev.Serial),
		logging.String("product", dev.Product))

	radio := usb.NewRadio(dev, log)
	return runSession(ctx, log, radio, configFromFlags(role))
}

// runDemo wires both roles to an in-process simulated link and runs them
// side by side.
func runDemo(ctx context.Context) error {
	log := logging.NewFromEnv()

	link := sim.NewLink(sim.LinkParams{
		DistanceMeters: flagDistance,
		VelocityKmh:    flagVelocity,
		LossRate:       flagLossRate,
		NoiseTicks:     flagNoise,
		Seed:           time.Now().UnixNano(),
	})

	if flagExtended && flagTxRxDelayTicks == 0 {
		// The simulated radios apply no turnaround delay, so any
		// explicit value satisfies extended-mode validation.
		flagTxRxDelayTicks = 12245
	}

	respCfg := configFromFlags(ranging.RoleResponder)
	respCfg.DeviceAddress = flagPeer
	respSession, err := ranging.NewSession(link.Responder(), respCfg, modulationFromFlags(),
		ranging.WithLogger(log))
	if err != nil {
		log.Error(ctx, "invalid responder configuration", logging.Error(err))
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := respSession.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error(ctx, "responder session exited", logging.Error(err))
		}
	}()
	go drainOutcomes(respSession.Outcomes())

	// Give the responder a moment to arm before the first request.
	for i := 0; i < 100 && !link.Responder().Armed(); i++ {
		time.Sleep(time.Millisecond)
	}

	return runSession(runCtx, log, link.Initiator(), configFromFlags(ranging.RoleInitiator))
}

// runSession is the shared tail of every subcommand: build the session
// with metrics and tracing, serve the HTTP surface, and pump outcomes to
// either the terminal view or the logger until interrupted.
func runSession(ctx context.Context, log logging.Logger, radio ranging.Radio, cfg ranging.RangingConfig) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Error(err))
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewRangingCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Error(err))
		return err
	}

	measurements := history.NewLog(flagHistorySize)
	metricsSrv := serveHTTP(flagMetricsAddr, collector, measurements, log)

	session, err := ranging.NewSession(radio, cfg, modulationFromFlags(),
		ranging.WithLogger(log),
		ranging.WithMetrics(collector),
	)
	if err != nil {
		log.Error(ctx, "invalid ranging configuration", logging.Error(err))
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	sessionDone := make(chan error, 1)
	go func() { sessionDone <- session.Run(runCtx) }()

	if flagUI {
		err = watchOutcomes(cfg, session.Outcomes(), measurements, sessionDone)
	} else {
		err = logOutcomes(runCtx, log, session.Outcomes(), measurements, sessionDone)
	}
	stop()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// logOutcomes consumes the outcome stream and reports it through the
// structured logger. The session closes its channel when Run returns, so
// ranging until then loses nothing that was still buffered.
func logOutcomes(ctx context.Context, log logging.Logger, outcomes <-chan ranging.Outcome, measurements *history.Log, sessionDone <-chan error) error {
	for outcome := range outcomes {
		switch outcome.Kind {
		case ranging.OutcomeMeasurement:
			meas := outcome.Measurement
			measurements.Append(meas)
			fields := []logging.Field{
				logging.Float64("distance_m", meas.DistanceMeters),
				logging.Int64("rssi_dbm", int64(meas.RssiDbm)),
			}
			if smoothed, ok := measurements.SmoothedDistance(); ok {
				fields = append(fields, logging.Float64("smoothed_m", smoothed))
			}
			if meas.RelativeVelocityKmh != nil {
				fields = append(fields, logging.Float64("velocity_kmh", *meas.RelativeVelocityKmh))
			}
			log.Info(ctx, "measurement", fields...)
		case ranging.OutcomeTimeout:
			log.Info(ctx, "ranging timeout, retrying")
		case ranging.OutcomeIncomplete:
			log.Warn(ctx, "incomplete exchange discarded", logging.Error(outcome.Err))
		}
	}
	return <-sessionDone
}

// watchOutcomes renders the terminal view, forwarding session outcomes
// into the Bubble Tea program until the outcome channel closes.
func watchOutcomes(cfg ranging.RangingConfig, outcomes <-chan ranging.Outcome, measurements *history.Log, sessionDone <-chan error) error {
	model := ui.New(cfg.Role, cfg.Extended, cfg.RequestAddress, measurements)
	program := tea.NewProgram(model, tea.WithAltScreen())

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for outcome := range outcomes {
			program.Send(ui.OutcomeMsg{Outcome: outcome})
		}
		program.Send(ui.SessionDoneMsg{Err: <-sessionDone})
	}()

	_, err := program.Run()
	<-forwardDone
	return err
}

// drainOutcomes keeps a secondary session from blocking on its outcome
// channel.
func drainOutcomes(outcomes <-chan ranging.Outcome) {
	for range outcomes {
	}
}

// serveHTTP exposes Prometheus metrics and a JSON snapshot of recent
// measurements.
func serveHTTP(addr string, collector *observability.RangingCollector, measurements *history.Log, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/measurements", func(w http.ResponseWriter, r *http.Request) {
		type snapshot struct {
			Total          uint64                `json:"total"`
			SmoothedMeters *float64              `json:"smoothed_meters,omitempty"`
			Measurements   []ranging.Measurement `json:"measurements"`
		}
		s := snapshot{
			Total:        measurements.Total(),
			Measurements: measurements.Snapshot(),
		}
		if smoothed, ok := measurements.SmoothedDistance(); ok {
			s.SmoothedMeters = &smoothed
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s); err != nil {
			log.Warn(r.Context(), "failed to encode measurements", logging.Error(err))
		}
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "http server exited", logging.Error(err))
		}
	}()

	log.Info(context.Background(), "serving metrics and measurements", logging.String("addr", addr))
	return srv
}
