package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/chirp-ranging/ranging"
)

// RangingCollector bundles the Prometheus metrics of a ranging session and
// implements ranging.MetricsRecorder so the session can drive them without
// importing any metrics library.
type RangingCollector struct {
	gatherer prometheus.Gatherer

	ExchangeOutcomes  *prometheus.CounterVec
	RequestsDiscarded prometheus.Counter
	ResponsesDone     prometheus.Counter
	RadioErrors       *prometheus.CounterVec

	DistanceMeters prometheus.Histogram

	LastDistanceMeters prometheus.Gauge
	LastVelocityKmh    prometheus.Gauge
	LastRssiDbm        prometheus.Gauge
}

// NewRangingCollector registers the ranging metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Re-registration of identical collectors is tolerated so tests and
// restarted sessions can share a registry.
func NewRangingCollector(reg prometheus.Registerer) (*RangingCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ranging_exchange_outcomes_total",
		Help: "Ranging cycle outcomes, labeled measurement, timeout, or incomplete.",
	}, []string{"outcome"})
	outcomes, err := registerCounterVec(reg, outcomes, "ranging_exchange_outcomes_total")
	if err != nil {
		return nil, err
	}

	discarded, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ranging_requests_discarded_total",
		Help: "Requests the responder discarded because the address did not match.",
	}), "ranging_requests_discarded_total")
	if err != nil {
		return nil, err
	}

	responses, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ranging_responses_done_total",
		Help: "Responses the responder completed transmitting.",
	}), "ranging_responses_done_total")
	if err != nil {
		return nil, err
	}

	radioErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ranging_radio_errors_total",
		Help: "Transient radio driver failures, labeled by operation.",
	}, []string{"op"})
	radioErrors, err = registerCounterVec(reg, radioErrors, "ranging_radio_errors_total")
	if err != nil {
		return nil, err
	}

	distance, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ranging_distance_meters",
		Help:    "Measured distances in metres.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}), "ranging_distance_meters")
	if err != nil {
		return nil, err
	}

	lastDistance, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ranging_last_distance_meters",
		Help: "Distance of the most recent measurement.",
	}), "ranging_last_distance_meters")
	if err != nil {
		return nil, err
	}
	lastVelocity, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ranging_last_velocity_kmh",
		Help: "Relative radial velocity of the most recent extended measurement.",
	}), "ranging_last_velocity_kmh")
	if err != nil {
		return nil, err
	}
	lastRssi, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ranging_last_rssi_dbm",
		Help: "RSSI of the most recent measurement in dBm.",
	}), "ranging_last_rssi_dbm")
	if err != nil {
		return nil, err
	}

	return &RangingCollector{
		gatherer:           gatherer,
		ExchangeOutcomes:   outcomes,
		RequestsDiscarded:  discarded,
		ResponsesDone:      responses,
		RadioErrors:        radioErrors,
		DistanceMeters:     distance,
		LastDistanceMeters: lastDistance,
		LastVelocityKmh:    lastVelocity,
		LastRssiDbm:        lastRssi,
	}, nil
}

// RecordOutcome implements ranging.MetricsRecorder.
func (c *RangingCollector) RecordOutcome(kind ranging.OutcomeKind) {
	if c == nil || c.ExchangeOutcomes == nil {
		return
	}
	c.ExchangeOutcomes.WithLabelValues(kind.String()).Inc()
}

// RecordDiscard implements ranging.MetricsRecorder.
func (c *RangingCollector) RecordDiscard() {
	if c == nil || c.RequestsDiscarded == nil {
		return
	}
	c.RequestsDiscarded.Inc()
}

// RecordResponse implements ranging.MetricsRecorder.
func (c *RangingCollector) RecordResponse() {
	if c == nil || c.ResponsesDone == nil {
		return
	}
	c.ResponsesDone.Inc()
}

// RecordRadioError implements ranging.MetricsRecorder.
func (c *RangingCollector) RecordRadioError(op string) {
	if c == nil || c.RadioErrors == nil {
		return
	}
	c.RadioErrors.WithLabelValues(op).Inc()
}

// ObserveMeasurement implements ranging.MetricsRecorder.
func (c *RangingCollector) ObserveMeasurement(m ranging.Measurement) {
	if c == nil {
		return
	}
	if c.DistanceMeters != nil {
		c.DistanceMeters.Observe(m.DistanceMeters)
	}
	if c.LastDistanceMeters != nil {
		c.LastDistanceMeters.Set(m.DistanceMeters)
	}
	if c.LastVelocityKmh != nil && m.RelativeVelocityKmh != nil {
		c.LastVelocityKmh.Set(*m.RelativeVelocityKmh)
	}
	if c.LastRssiDbm != nil {
		c.LastRssiDbm.Set(float64(m.RssiDbm))
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RangingCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
