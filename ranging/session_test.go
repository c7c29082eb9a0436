package ranging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedRadio feeds a canned sequence of events to the session and
// records every driver call, in the capturing-fake style used across the
// test suite.
type scriptedRadio struct {
	mu      sync.Mutex
	events  []Event
	results []RawExchangeResult

	configured int
	cfgSeen    RangingConfig
	modSeen    ModulationParams
	transmits  int
	arms       int

	baseDelay   int32
	baseDelayOK bool

	armErrOnce error
	txErrOnce  error
}

func (r *scriptedRadio) ConfigureRole(ctx context.Context, cfg RangingConfig, mod ModulationParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configured++
	r.cfgSeen = cfg
	r.modSeen = mod
	return nil
}

func (r *scriptedRadio) ArmReceive(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.arms++
	if err := r.armErrOnce; err != nil {
		r.armErrOnce = nil
		return err
	}
	return nil
}

func (r *scriptedRadio) TransmitRequest(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transmits++
	if err := r.txErrOnce; err != nil {
		r.txErrOnce = nil
		return err
	}
	return nil
}

func (r *scriptedRadio) WaitForEvent(ctx context.Context) (Event, error) {
	r.mu.Lock()
	if len(r.events) > 0 {
		ev := r.events[0]
		r.events = r.events[1:]
		r.mu.Unlock()
		return ev, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return 0, ctx.Err()
}

func (r *scriptedRadio) ReadRawResult(ctx context.Context) (RawExchangeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return RawExchangeResult{}, ErrNoPendingResult
	}
	res := r.results[0]
	r.results = r.results[1:]
	return res, nil
}

func (r *scriptedRadio) BaseDelay(mod ModulationParams) (int32, bool) {
	return r.baseDelay, r.baseDelayOK
}

func (r *scriptedRadio) snapshot() scriptedRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	return scriptedRadio{
		configured: r.configured,
		cfgSeen:    r.cfgSeen,
		modSeen:    r.modSeen,
		transmits:  r.transmits,
		arms:       r.arms,
	}
}

type countingRecorder struct {
	mu          sync.Mutex
	outcomes    map[OutcomeKind]int
	discards    int
	responses   int
	radioErrors map[string]int
	observed    []Measurement
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		outcomes:    make(map[OutcomeKind]int),
		radioErrors: make(map[string]int),
	}
}

func (c *countingRecorder) RecordOutcome(kind OutcomeKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[kind]++
}

func (c *countingRecorder) RecordDiscard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discards++
}

func (c *countingRecorder) RecordResponse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses++
}

func (c *countingRecorder) RecordRadioError(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.radioErrors[op]++
}

func (c *countingRecorder) ObserveMeasurement(m Measurement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observed = append(c.observed, m)
}

func (c *countingRecorder) counts() (discards, responses int, outcomes map[OutcomeKind]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[OutcomeKind]int, len(c.outcomes))
	for k, v := range c.outcomes {
		out[k] = v
	}
	return c.discards, c.responses, out
}

// collectOutcomes runs the session until n outcomes arrive, then cancels
// and drains the channel.
func collectOutcomes(t *testing.T, sess *Session, n int) []Outcome {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	var outs []Outcome
	deadline := time.After(2 * time.Second)
	for len(outs) < n {
		select {
		case o, ok := <-sess.Outcomes():
			if !ok {
				t.Fatalf("outcome channel closed after %d of %d outcomes", len(outs), n)
			}
			outs = append(outs, o)
		case <-deadline:
			t.Fatalf("timed out after %d of %d outcomes", len(outs), n)
		}
	}

	cancel()
	for range sess.Outcomes() {
	}
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	return outs
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestSession_InitiatorEmitsMeasurements(t *testing.T) {
	radio := &scriptedRadio{
		events: []Event{EventExchangeValid, EventExchangeValid},
		results: []RawExchangeResult{
			{Rng1: 1000, Rssi1: -80},
			{Rng1: 1100, Rssi1: -82},
		},
		baseDelayOK: true,
		baseDelay:   12940,
	}
	cfg := validConfig(RoleInitiator)
	cfg.Interval = 0

	sess, err := NewSession(radio, cfg, testMod)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	outs := collectOutcomes(t, sess, 2)
	for i, o := range outs {
		if o.Kind != OutcomeMeasurement {
			t.Fatalf("outcome %d kind = %v, want measurement", i, o.Kind)
		}
	}
	if outs[1].Measurement.DistanceMeters <= outs[0].Measurement.DistanceMeters {
		t.Fatal("larger tick count should yield larger distance")
	}
	if outs[0].Measurement.RssiDbm != cfg.RssiOffsetDb-80 {
		t.Fatalf("rssi = %d, want configured offset applied", outs[0].Measurement.RssiDbm)
	}

	snap := radio.snapshot()
	if snap.configured != 1 {
		t.Fatalf("ConfigureRole called %d times, want exactly once", snap.configured)
	}
	if snap.cfgSeen.TxRxDelayTicks != 12940 {
		t.Fatalf("configured delay = %d, want driver base delay 12940", snap.cfgSeen.TxRxDelayTicks)
	}
	// Initial transmit plus one per completed cycle.
	if snap.transmits != 3 {
		t.Fatalf("transmits = %d, want 3", snap.transmits)
	}
}

func TestSession_TimeoutIsFirstClassOutcome(t *testing.T) {
	radio := &scriptedRadio{
		events:      []Event{EventTimeout, EventTimeout, EventExchangeValid},
		results:     []RawExchangeResult{{Rng1: 900, Rssi1: -85}},
		baseDelayOK: true,
	}
	cfg := validConfig(RoleInitiator)
	cfg.Interval = 0

	sess, err := NewSession(radio, cfg, testMod)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	outs := collectOutcomes(t, sess, 3)
	wantKinds := []OutcomeKind{OutcomeTimeout, OutcomeTimeout, OutcomeMeasurement}
	for i, want := range wantKinds {
		if outs[i].Kind != want {
			t.Fatalf("outcome %d kind = %v, want %v", i, outs[i].Kind, want)
		}
	}

	snap := radio.snapshot()
	// One initial transmit, one retransmit per timeout, one continue.
	if snap.transmits != 4 {
		t.Fatalf("transmits = %d, want 4", snap.transmits)
	}
}

func TestSession_IncompleteExtendedExchangeIsDiagnostic(t *testing.T) {
	radio := &scriptedRadio{
		events:  []Event{EventExchangeValid},
		results: []RawExchangeResult{{Rng1: 1000, Rssi1: -80}}, // rng2/rssi2 missing
	}
	cfg := validConfig(RoleInitiator)
	cfg.Extended = true
	cfg.TxRxDelayTicks = 12245
	cfg.Interval = 0

	rec := newCountingRecorder()
	sess, err := NewSession(radio, cfg, testMod, WithMetrics(rec))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	outs := collectOutcomes(t, sess, 1)
	if outs[0].Kind != OutcomeIncomplete {
		t.Fatalf("kind = %v, want incomplete", outs[0].Kind)
	}
	if !errors.Is(outs[0].Err, ErrIncompleteExchange) {
		t.Fatalf("err = %v, want ErrIncompleteExchange", outs[0].Err)
	}

	_, _, outcomes := rec.counts()
	if outcomes[OutcomeIncomplete] != 1 || outcomes[OutcomeMeasurement] != 0 {
		t.Fatalf("recorded outcomes = %v, want exactly one incomplete", outcomes)
	}
}

func TestSession_ResponderDiscardAndResponseAreCountersOnly(t *testing.T) {
	radio := &scriptedRadio{
		events:      []Event{EventRequestDiscarded, EventResponseDone},
		baseDelayOK: true,
	}
	cfg := validConfig(RoleResponder)

	rec := newCountingRecorder()
	sess, err := NewSession(radio, cfg, testMod, WithMetrics(rec))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	waitFor(t, func() bool {
		discards, responses, _ := rec.counts()
		return discards == 1 && responses == 1
	})

	select {
	case o := <-sess.Outcomes():
		t.Fatalf("responder diagnostics must not become outcomes, got %v", o.Kind)
	default:
	}

	cancel()
	<-done

	snap := radio.snapshot()
	if snap.arms == 0 {
		t.Fatal("responder never armed receive")
	}
	if snap.transmits != 0 {
		t.Fatalf("responder transmitted %d times, want 0", snap.transmits)
	}
	if st := sess.State(); st.Phase != PhaseArmedResponder || st.Discards != 1 || st.Responses != 1 {
		t.Fatalf("final state = %+v", st)
	}
}

func TestSession_SpyResponderEmitsOverheardMeasurements(t *testing.T) {
	radio := &scriptedRadio{
		events:      []Event{EventExchangeValid},
		results:     []RawExchangeResult{{Rng1: 1000, Rssi1: -80}},
		baseDelayOK: true,
	}
	cfg := validConfig(RoleResponder)
	cfg.SpyMode = true

	sess, err := NewSession(radio, cfg, testMod, WithMetrics(newCountingRecorder()))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	outs := collectOutcomes(t, sess, 1)
	if outs[0].Kind != OutcomeMeasurement {
		t.Fatalf("kind = %v, want measurement", outs[0].Kind)
	}
	if st := sess.State(); st.Phase != PhaseArmedResponder || st.Exchanges != 1 {
		t.Fatalf("final state = %+v", st)
	}
}

func TestSession_NonSpyResponderIgnoresOverheardExchange(t *testing.T) {
	radio := &scriptedRadio{
		events:      []Event{EventExchangeValid, EventResponseDone},
		results:     []RawExchangeResult{{Rng1: 1000, Rssi1: -80}},
		baseDelayOK: true,
	}
	cfg := validConfig(RoleResponder)

	rec := newCountingRecorder()
	sess, err := NewSession(radio, cfg, testMod, WithMetrics(rec))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	// The trailing response-done proves the exchange-valid event was
	// consumed and ignored rather than still pending.
	waitFor(t, func() bool {
		_, responses, _ := rec.counts()
		return responses == 1
	})

	select {
	case o := <-sess.Outcomes():
		t.Fatalf("non-spy responder emitted %v", o.Kind)
	default:
	}

	cancel()
	<-done

	if st := sess.State(); st.Exchanges != 0 {
		t.Fatalf("exchanges = %d, want 0", st.Exchanges)
	}
}

func TestSession_InvalidConfigBeforeRadioContact(t *testing.T) {
	radio := &scriptedRadio{}
	mod := ModulationParams{SpreadingFactor: 3, BandwidthHz: 250000, RfFrequencyHz: 2450000000}

	_, err := NewSession(radio, validConfig(RoleInitiator), mod)
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *ConfigError", err)
	}
	if radio.snapshot().configured != 0 {
		t.Fatal("radio must not be touched for an invalid configuration")
	}
}

func TestSession_MissingBaseDelayFailsStart(t *testing.T) {
	radio := &scriptedRadio{baseDelayOK: false}
	cfg := validConfig(RoleInitiator)
	cfg.TxRxDelayTicks = 0

	sess, err := NewSession(radio, cfg, testMod)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	err = sess.Run(context.Background())
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("Run err = %v, want *ConfigError", err)
	}
	if radio.snapshot().configured != 0 {
		t.Fatal("radio must not be configured without a resolvable delay")
	}
}

func TestSession_TransientTransmitErrorIsRetriedViaTimeout(t *testing.T) {
	radio := &scriptedRadio{
		events:      []Event{EventTimeout},
		baseDelayOK: true,
		txErrOnce:   errors.New("tx fifo busy"),
	}
	cfg := validConfig(RoleInitiator)
	cfg.Interval = 0

	rec := newCountingRecorder()
	sess, err := NewSession(radio, cfg, testMod, WithMetrics(rec))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	outs := collectOutcomes(t, sess, 1)
	if outs[0].Kind != OutcomeTimeout {
		t.Fatalf("kind = %v, want timeout", outs[0].Kind)
	}

	rec.mu.Lock()
	txErrs := rec.radioErrors["transmit-request"]
	rec.mu.Unlock()
	if txErrs != 1 {
		t.Fatalf("recorded transmit errors = %d, want 1", txErrs)
	}
	// The failed transmit plus the post-timeout retransmit.
	if snap := radio.snapshot(); snap.transmits != 2 {
		t.Fatalf("transmits = %d, want 2", snap.transmits)
	}
}
