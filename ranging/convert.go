package ranging

import "math"

// speedOfLightMps is the propagation speed used for all time-of-flight
// conversions, in metres per second.
const speedOfLightMps = 299792458.0

// tickScale is the fixed-point scale of the hardware's ranging timing tick
// register: one raw count is 1/4096 of a symbol-rate period. It encodes the
// tick resolution contract with the radio's counter width and must never
// appear as a bare 4096 elsewhere.
const tickScale = 4096.0

// DistanceMeters converts raw round-trip timing counts into metres. In
// extended mode (rng2 non-nil) the two sub-exchanges are averaged to cancel
// frequency-drift bias; in standard mode rng1 alone carries the round trip.
//
// The result is not clamped: a negative value is measurement noise or
// miscalibration and is the caller's to interpret.
func DistanceMeters(rng1 int32, rng2 *int32, bandwidthHz uint32) float64 {
	rttofTicks := float64(rng1)
	if rng2 != nil {
		rttofTicks = (float64(rng1) + float64(*rng2)) / 2
	}
	return rttofTicks * speedOfLightMps / 2 / tickScale / float64(bandwidthHz)
}

// RelativeVelocityKmh derives the relative radial velocity from the
// differential timing count of the two extended-mode sub-exchanges.
// Positive means the peers are receding, negative approaching; the sign
// convention is taken from the narrative protocol description and still
// needs confirmation against a controlled closing-distance run before it is
// trusted in production.
//
// Only meaningful when both sub-exchange counts exist; standard-mode
// callers must not synthesize a zero here (absence is not zero).
func RelativeVelocityKmh(rng1, rng2 int32, mod ModulationParams) float64 {
	doppler := float64(rng2) - float64(rng1)
	return doppler * float64(mod.BandwidthHz) / math.Exp2(float64(mod.SpreadingFactor)) *
		speedOfLightMps / 2 * 3.6 / tickScale / float64(mod.RfFrequencyHz)
}

// TicksForDistance is the inverse of DistanceMeters for a single
// sub-exchange: the raw count a drift-free radio would report for a
// one-way distance. Used by the simulated driver and round-trip tests.
func TicksForDistance(meters float64, bandwidthHz uint32) int32 {
	return int32(math.Round(meters * 2 * tickScale * float64(bandwidthHz) / speedOfLightMps))
}

// DopplerTicksForVelocity is the inverse of RelativeVelocityKmh: the
// rng2-rng1 differential a given radial velocity produces.
func DopplerTicksForVelocity(velocityKmh float64, mod ModulationParams) int32 {
	ticks := velocityKmh * math.Exp2(float64(mod.SpreadingFactor)) * tickScale *
		float64(mod.RfFrequencyHz) * 2 / (float64(mod.BandwidthHz) * speedOfLightMps * 3.6)
	return int32(math.Round(ticks))
}
