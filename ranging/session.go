package ranging

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/chirp-ranging/internal/logging"
	"github.com/signalsfoundry/chirp-ranging/timectrl"
)

// Radio is the contract the session needs from the radio driver. The event
// sequencing and the raw-register read-after-exchange-valid rule are the
// only protocol this core depends on; packet encoding is opaque hardware
// business.
type Radio interface {
	// ConfigureRole applies the full ranging configuration. Called exactly
	// once, before any other operation.
	ConfigureRole(ctx context.Context, cfg RangingConfig, mod ModulationParams) error
	// ArmReceive puts a responder into continuous receive.
	ArmReceive(ctx context.Context) error
	// TransmitRequest puts an initiator's ranging request on the air.
	TransmitRequest(ctx context.Context) error
	// WaitForEvent blocks until the next radio event. This is the single
	// suspension point of the control loop; the radio's own timeout window
	// bounds the wait on the initiator side.
	WaitForEvent(ctx context.Context) (Event, error)
	// ReadRawResult reads the raw ranging result registers. Valid only
	// immediately after an exchange-valid event.
	ReadRawResult(ctx context.Context) (RawExchangeResult, error)
	// BaseDelay returns the standard-mode turnaround calibration for the
	// given modulation, and false when no calibration entry exists.
	BaseDelay(mod ModulationParams) (int32, bool)
}

// OutcomeKind tags what a ranging cycle produced.
type OutcomeKind int

const (
	// OutcomeMeasurement carries a valid Measurement.
	OutcomeMeasurement OutcomeKind = iota
	// OutcomeTimeout marks a cycle where no exchange completed. Expected
	// and first-class: it distinguishes "no link" from "link gave a
	// reading".
	OutcomeTimeout
	// OutcomeIncomplete marks an extended-mode exchange with missing
	// sub-exchange data; a diagnostic, never downgraded to a measurement.
	OutcomeIncomplete
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeMeasurement:
		return "measurement"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeIncomplete:
		return "incomplete"
	default:
		return "unknown"
	}
}

// Outcome is what the session hands its consumer per cycle.
type Outcome struct {
	Kind        OutcomeKind
	Measurement Measurement // set when Kind == OutcomeMeasurement
	Err         error       // set when Kind == OutcomeIncomplete
}

// MetricsRecorder receives session diagnostics. The core stays free of any
// metrics library; internal/observability provides the Prometheus-backed
// implementation.
type MetricsRecorder interface {
	RecordOutcome(kind OutcomeKind)
	RecordDiscard()
	RecordResponse()
	RecordRadioError(op string)
	ObserveMeasurement(m Measurement)
}

type noopRecorder struct{}

func (noopRecorder) RecordOutcome(OutcomeKind)     {}
func (noopRecorder) RecordDiscard()                {}
func (noopRecorder) RecordResponse()               {}
func (noopRecorder) RecordRadioError(string)       {}
func (noopRecorder) ObserveMeasurement(Measurement) {}

// Session drives one ranging role over a radio: it owns the configuration,
// runs the event loop in a single goroutine, and emits Outcomes. All
// SessionState mutation happens inside Run; consumers only ever see
// Measurement values.
type Session struct {
	cfg     RangingConfig
	mod     ModulationParams
	radio   Radio
	clock   timectrl.Clock
	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer

	state SessionState
	out   chan Outcome
}

// Option customises a Session.
type Option func(*Session)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the pacing clock, mainly for tests.
func WithClock(c timectrl.Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewSession validates the configuration and builds a session. Validation
// failures surface as *ConfigError before the radio is touched. The RSSI
// offset and delay calibration are captured here, once; recomputing them
// externally mid-session cannot leak jitter into running samples.
func NewSession(radio Radio, cfg RangingConfig, mod ModulationParams, opts ...Option) (*Session, error) {
	if radio == nil {
		return nil, &ConfigError{Field: "Radio", Reason: "must not be nil"}
	}
	if err := mod.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:     cfg,
		mod:     mod,
		radio:   radio,
		clock:   timectrl.SystemClock{},
		log:     logging.Noop(),
		metrics: noopRecorder{},
		tracer:  otel.Tracer("chirp-ranging/session"),
		out:     make(chan Outcome, 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Outcomes is the session's single-producer output channel. It is closed
// when Run returns.
func (s *Session) Outcomes() <-chan Outcome { return s.out }

// State returns the session state. Only meaningful before Run starts or
// after it returns; the loop is the sole mutator while running.
func (s *Session) State() SessionState { return s.state }

// Run configures the radio and drives the event loop until ctx is
// cancelled. It returns ctx.Err() on cancellation and an error only for
// failures that make the session unviable (configuration rejected by the
// radio). Transient radio errors are counted and retried on the next
// iteration.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.out)

	if err := s.resolveDelay(); err != nil {
		return err
	}
	if err := s.radio.ConfigureRole(ctx, s.cfg, s.mod); err != nil {
		return fmt.Errorf("configure role: %w", err)
	}

	s.log.Info(ctx, "ranging session started",
		logging.String("role", s.cfg.Role.String()),
		logging.Any("extended", s.cfg.Extended),
		logging.Int("spreading_factor", s.mod.SpreadingFactor),
		logging.Int64("bandwidth_hz", int64(s.mod.BandwidthHz)),
		logging.Int64("rf_frequency_hz", int64(s.mod.RfFrequencyHz)),
		logging.Int64("txrx_delay_ticks", int64(s.cfg.TxRxDelayTicks)),
	)

	armed := false
	if s.cfg.Role == RoleResponder {
		// Continuous receive is the resting state; arm failures are
		// transient and retried at the next iteration boundary.
		if err := s.radio.ArmReceive(ctx); err != nil {
			s.radioError(ctx, "arm-receive", err)
		} else {
			armed = true
		}
	}

	state, actions := Begin(s.cfg.Role, s.cfg.SpyMode)
	s.state = state
	if err := s.execute(ctx, actions); err != nil {
		return err
	}

	for {
		// Cancellation is observed at every iteration boundary so the
		// loop exits cleanly; a pending exchange left in the radio is a
		// documented edge, not a crash.
		if err := ctx.Err(); err != nil {
			return err
		}

		if s.cfg.Role == RoleResponder && !armed {
			if err := s.radio.ArmReceive(ctx); err != nil {
				s.radioError(ctx, "arm-receive", err)
			} else {
				armed = true
			}
		}

		ev, err := s.radio.WaitForEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.radioError(ctx, "wait-event", err)
			continue
		}

		cycleCtx, span := s.tracer.Start(ctx, "ranging.cycle",
			trace.WithAttributes(
				attribute.String("event", ev.String()),
				attribute.Int64("transmits", int64(s.state.Transmits)),
			),
		)

		state, actions = Transition(s.state, ev)
		s.state = state
		err = s.execute(cycleCtx, actions)
		if err == nil && s.state.Phase == PhaseExchangeComplete {
			state, actions = Continue(s.state)
			s.state = state
			err = s.execute(cycleCtx, actions)
		}
		span.End()
		if err != nil {
			return err
		}
	}
}

// resolveDelay fixes the turnaround calibration before the radio is
// configured. Standard mode consults the driver's base-delay table unless
// the config carries an explicit override; extended mode was already forced
// to an explicit value by Validate.
func (s *Session) resolveDelay() error {
	if s.cfg.TxRxDelayTicks != 0 {
		return nil
	}
	ticks, ok := s.radio.BaseDelay(s.mod)
	if !ok {
		return &ConfigError{Field: "TxRxDelayTicks", Reason: "no base delay calibration for this modulation"}
	}
	s.cfg.TxRxDelayTicks = ticks
	return nil
}

func (s *Session) execute(ctx context.Context, actions []Action) error {
	for _, a := range actions {
		switch a.Kind {
		case ActionTransmitRequest:
			if a.AfterDelay && s.cfg.Interval > 0 {
				select {
				case <-s.clock.After(s.cfg.Interval):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err := s.radio.TransmitRequest(ctx); err != nil {
				// Lossy by nature: count it and let the radio's
				// timeout path drive the retry.
				s.radioError(ctx, "transmit-request", err)
			}

		case ActionReadResult:
			raw, err := s.radio.ReadRawResult(ctx)
			if err != nil {
				s.radioError(ctx, "read-result", err)
				continue
			}
			m, err := AggregateExchange(raw, s.cfg.Extended, s.cfg.RssiOffsetDb, s.mod, s.clock.Now())
			if err != nil {
				s.log.Warn(ctx, "discarding inconsistent exchange", logging.Error(err))
				s.metrics.RecordOutcome(OutcomeIncomplete)
				if err := s.emit(ctx, Outcome{Kind: OutcomeIncomplete, Err: err}); err != nil {
					return err
				}
				continue
			}
			s.metrics.RecordOutcome(OutcomeMeasurement)
			s.metrics.ObserveMeasurement(m)
			s.log.Debug(ctx, "measurement",
				logging.Float64("distance_m", m.DistanceMeters),
				logging.Int64("rssi_dbm", int64(m.RssiDbm)),
			)
			if err := s.emit(ctx, Outcome{Kind: OutcomeMeasurement, Measurement: m}); err != nil {
				return err
			}

		case ActionEmitTimeout:
			s.metrics.RecordOutcome(OutcomeTimeout)
			s.log.Debug(ctx, "ranging timeout", logging.Int64("timeouts", int64(s.state.Timeouts)))
			if err := s.emit(ctx, Outcome{Kind: OutcomeTimeout}); err != nil {
				return err
			}

		case ActionCountDiscard:
			s.metrics.RecordDiscard()
			s.log.Debug(ctx, "request discarded", logging.Int64("discards", int64(s.state.Discards)))

		case ActionCountResponse:
			s.metrics.RecordResponse()
		}
	}
	return nil
}

func (s *Session) emit(ctx context.Context, o Outcome) error {
	select {
	case s.out <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) radioError(ctx context.Context, op string, err error) {
	s.metrics.RecordRadioError(op)
	s.log.Warn(ctx, "transient radio error", logging.String("op", op), logging.Error(err))
}
