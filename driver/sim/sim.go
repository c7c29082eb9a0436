// Package sim provides a channel-linked pair of simulated ranging radios.
// It lets the session logic, demos, and tests run a full initiator/responder
// exchange without hardware: raw timing counts are synthesized from a
// configurable true distance and radial velocity by inverting the tick
// conversion formulas.
package sim

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/signalsfoundry/chirp-ranging/ranging"
)

// LinkParams describes the simulated RF channel between the two radios.
type LinkParams struct {
	DistanceMeters float64
	VelocityKmh    float64
	// NoiseTicks is the standard deviation of gaussian noise added to each
	// raw timing count.
	NoiseTicks float64
	// LossRate is the probability that a request never completes an
	// exchange, surfacing as a timeout on the initiator.
	LossRate float64
	// Seed fixes the noise/loss randomness; 0 seeds from the clock.
	Seed int64
}

// Link is the shared channel state. A single mutex guards both endpoints so
// an exchange can inspect and update them atomically.
type Link struct {
	mu        sync.Mutex
	params    LinkParams
	rng       *rand.Rand
	initiator *Radio
	responder *Radio
}

// NewLink builds a linked radio pair.
func NewLink(p LinkParams) *Link {
	seed := p.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	l := &Link{
		params: p,
		rng:    rand.New(rand.NewSource(seed)),
	}
	l.initiator = &Radio{link: l, events: make(chan ranging.Event, 8)}
	l.responder = &Radio{link: l, events: make(chan ranging.Event, 8)}
	return l
}

// Initiator returns the initiator-side radio endpoint.
func (l *Link) Initiator() *Radio { return l.initiator }

// Responder returns the responder-side radio endpoint.
func (l *Link) Responder() *Radio { return l.responder }

// SetDistance moves the peers apart while a session runs.
func (l *Link) SetDistance(meters float64) {
	l.mu.Lock()
	l.params.DistanceMeters = meters
	l.mu.Unlock()
}

// SetVelocity changes the relative radial velocity (positive = receding).
func (l *Link) SetVelocity(kmh float64) {
	l.mu.Lock()
	l.params.VelocityKmh = kmh
	l.mu.Unlock()
}

// Radio is one endpoint of the simulated link, implementing ranging.Radio.
type Radio struct {
	link *Link

	// Guarded by link.mu.
	cfg        ranging.RangingConfig
	mod        ranging.ModulationParams
	configured bool
	armed      bool
	pending    *ranging.RawExchangeResult

	events chan ranging.Event
}

// ConfigureRole implements ranging.Radio.
func (r *Radio) ConfigureRole(ctx context.Context, cfg ranging.RangingConfig, mod ranging.ModulationParams) error {
	r.link.mu.Lock()
	defer r.link.mu.Unlock()
	r.cfg = cfg
	r.mod = mod
	r.configured = true
	return nil
}

// ArmReceive implements ranging.Radio.
func (r *Radio) ArmReceive(ctx context.Context) error {
	r.link.mu.Lock()
	defer r.link.mu.Unlock()
	r.armed = true
	return nil
}

// Armed reports whether the endpoint is in continuous receive.
func (r *Radio) Armed() bool {
	r.link.mu.Lock()
	defer r.link.mu.Unlock()
	return r.armed
}

// TransmitRequest implements ranging.Radio. The whole exchange resolves
// synchronously: the appropriate events are queued on both endpoints and
// picked up by their WaitForEvent calls.
func (r *Radio) TransmitRequest(ctx context.Context) error {
	l := r.link
	l.mu.Lock()
	defer l.mu.Unlock()

	peer := l.responder
	if r == l.responder {
		peer = l.initiator
	}

	if !peer.configured || !peer.armed {
		// Nobody listening: the radio's timeout window elapses.
		r.push(ranging.EventTimeout)
		return nil
	}
	if r.cfg.RequestAddress != peer.cfg.DeviceAddress {
		peer.push(ranging.EventRequestDiscarded)
		r.push(ranging.EventTimeout)
		return nil
	}
	if l.rng.Float64() < l.params.LossRate {
		r.push(ranging.EventTimeout)
		return nil
	}

	r.pending = l.synthesize(r.cfg.Extended, r.mod)
	peer.push(ranging.EventResponseDone)
	r.push(ranging.EventExchangeValid)
	return nil
}

// WaitForEvent implements ranging.Radio.
func (r *Radio) WaitForEvent(ctx context.Context) (ranging.Event, error) {
	select {
	case ev := <-r.events:
		return ev, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ReadRawResult implements ranging.Radio.
func (r *Radio) ReadRawResult(ctx context.Context) (ranging.RawExchangeResult, error) {
	r.link.mu.Lock()
	defer r.link.mu.Unlock()
	if r.pending == nil {
		return ranging.RawExchangeResult{}, ranging.ErrNoPendingResult
	}
	res := *r.pending
	r.pending = nil
	return res, nil
}

// BaseDelay implements ranging.Radio. The simulated radio has an ideal
// turnaround, so the standard-mode calibration is zero.
func (r *Radio) BaseDelay(mod ranging.ModulationParams) (int32, bool) {
	return 0, true
}

// push queues an event without ever blocking the exchange; a full queue
// drops the event, which mimics a missed interrupt.
func (r *Radio) push(ev ranging.Event) {
	select {
	case r.events <- ev:
	default:
	}
}

// synthesize builds the raw register contents a drift-free radio would
// report for the current channel parameters. Callers hold link.mu.
func (l *Link) synthesize(extended bool, mod ranging.ModulationParams) *ranging.RawExchangeResult {
	noise := func() int32 {
		if l.params.NoiseTicks == 0 {
			return 0
		}
		return int32(math.Round(l.rng.NormFloat64() * l.params.NoiseTicks))
	}

	rng1 := ranging.TicksForDistance(l.params.DistanceMeters, mod.BandwidthHz) + noise()
	rssi1 := l.pathRssi()

	res := &ranging.RawExchangeResult{Rng1: rng1, Rssi1: rssi1}
	if extended {
		rng2 := rng1 + ranging.DopplerTicksForVelocity(l.params.VelocityKmh, mod) + noise()
		rssi2 := l.pathRssi()
		res.Rng2 = &rng2
		res.Rssi2 = &rssi2
	}
	return res
}

// pathRssi is a crude log-distance model, just enough for dashboards to
// show a plausible signal level.
func (l *Link) pathRssi() int32 {
	d := l.params.DistanceMeters
	if d < 1 {
		d = 1
	}
	return int32(math.Round(-40 - 20*math.Log10(d) + l.rng.Float64()*2))
}
