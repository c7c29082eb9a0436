package ranging

import (
	"fmt"
	"time"
)

// RawExchangeResult is the register-level outcome of one valid ranging
// exchange, read immediately after an exchange-valid event and consumed
// once. Rng2 and Rssi2 exist only in extended mode.
type RawExchangeResult struct {
	Rng1  int32
	Rng2  *int32
	Rssi1 int32
	Rssi2 *int32
}

// Measurement is the single outward-facing record of a ranging cycle,
// immutable and handed to consumers by value. RelativeVelocityKmh is nil
// outside extended mode; callers must not conflate absence with zero.
type Measurement struct {
	Timestamp           time.Time `json:"timestamp"`
	DistanceMeters      float64   `json:"distance_meters"`
	RelativeVelocityKmh *float64  `json:"relative_velocity_kmh,omitempty"`
	RssiDbm             int32     `json:"rssi_dbm"`
}

// AggregateExchange combines a raw exchange result with the session's
// calibration into a Measurement.
//
// In extended mode a missing second sub-exchange fails with
// ErrIncompleteExchange: that signals a driver/protocol inconsistency and
// must never silently degrade to standard-mode math. In standard mode the
// second sub-exchange is ignored entirely even if a driver populates it.
func AggregateExchange(raw RawExchangeResult, extended bool, rssiOffsetDb int32, mod ModulationParams, now time.Time) (Measurement, error) {
	if extended {
		if raw.Rng2 == nil || raw.Rssi2 == nil {
			return Measurement{}, fmt.Errorf("aggregate exchange: %w", ErrIncompleteExchange)
		}
		v := RelativeVelocityKmh(raw.Rng1, *raw.Rng2, mod)
		return Measurement{
			Timestamp:           now,
			DistanceMeters:      DistanceMeters(raw.Rng1, raw.Rng2, mod.BandwidthHz),
			RelativeVelocityKmh: &v,
			RssiDbm:             rssiOffsetDb + raw.Rssi1,
		}, nil
	}

	return Measurement{
		Timestamp:      now,
		DistanceMeters: DistanceMeters(raw.Rng1, nil, mod.BandwidthHz),
		RssiDbm:        rssiOffsetDb + raw.Rssi1,
	}, nil
}
