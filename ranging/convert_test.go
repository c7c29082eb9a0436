package ranging

import (
	"math"
	"testing"
)

func TestDistanceMeters_KnownFixture(t *testing.T) {
	// rng1 = rng2 = 1000 at 250 kHz: 1000 * c / 2 / 4096 / 250000.
	rng2 := int32(1000)
	got := DistanceMeters(1000, &rng2, 250000)
	want := 1000.0 * 299792458.0 / 2 / 4096 / 250000
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("distance = %v, want %v", got, want)
	}
	if math.Abs(got-146.38) > 0.1 {
		t.Fatalf("distance = %v, expected roughly 146 m", got)
	}
}

func TestDistanceMeters_StandardModeUsesRng1Alone(t *testing.T) {
	got := DistanceMeters(500, nil, 125000)
	want := 500.0 * 299792458.0 / 2 / 4096 / 125000
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("distance = %v, want %v", got, want)
	}
}

func TestDistanceMeters_MonotonicInTickSum(t *testing.T) {
	prev := math.Inf(-1)
	for sum := int32(0); sum <= 20000; sum += 500 {
		rng2 := sum / 2
		d := DistanceMeters(sum-rng2, &rng2, 250000)
		if d <= prev {
			t.Fatalf("distance not monotonic at tick sum %d: %v <= %v", sum, d, prev)
		}
		prev = d
	}
}

func TestDistanceMeters_DoublingBandwidthHalvesDistance(t *testing.T) {
	rng2 := int32(1200)
	narrow := DistanceMeters(800, &rng2, 125000)
	wide := DistanceMeters(800, &rng2, 250000)
	if math.Abs(narrow-2*wide) > 1e-9 {
		t.Fatalf("dimensional consistency broken: %v vs 2*%v", narrow, wide)
	}
}

func TestDistanceMeters_NoClamping(t *testing.T) {
	// Negative counts mean miscalibration; the converter must pass them
	// through for the caller to interpret.
	if d := DistanceMeters(-300, nil, 250000); d >= 0 {
		t.Fatalf("expected negative distance for negative count, got %v", d)
	}
}

func TestRelativeVelocityKmh_ZeroWhenSubExchangesAgree(t *testing.T) {
	mod := ModulationParams{SpreadingFactor: 9, BandwidthHz: 250000, RfFrequencyHz: 2450000000}
	for _, k := range []int32{-5000, -1, 0, 1, 1000, 30000} {
		if v := RelativeVelocityKmh(k, k, mod); v != 0 {
			t.Fatalf("rng1 = rng2 = %d: velocity = %v, want exactly 0", k, v)
		}
	}
}

func TestRelativeVelocityKmh_SignConvention(t *testing.T) {
	mod := ModulationParams{SpreadingFactor: 9, BandwidthHz: 250000, RfFrequencyHz: 2450000000}

	// rng2 > rng1: the second sub-exchange saw a longer path, peers are
	// receding, velocity positive.
	if v := RelativeVelocityKmh(1000, 1010, mod); v <= 0 {
		t.Fatalf("receding pair gave velocity %v, want > 0", v)
	}
	if v := RelativeVelocityKmh(1010, 1000, mod); v >= 0 {
		t.Fatalf("approaching pair gave velocity %v, want < 0", v)
	}
}

func TestRelativeVelocityKmh_Formula(t *testing.T) {
	mod := ModulationParams{SpreadingFactor: 10, BandwidthHz: 500000, RfFrequencyHz: 868000000}
	got := RelativeVelocityKmh(2000, 2048, mod)
	doppler := 48.0
	want := doppler * 500000 / math.Exp2(10) * 299792458.0 / 2 * 3.6 / 4096 / 868000000
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("velocity = %v, want %v", got, want)
	}
}

func TestTicksForDistance_RoundTrips(t *testing.T) {
	for _, meters := range []float64{10, 146, 500, 2500} {
		ticks := TicksForDistance(meters, 250000)
		back := DistanceMeters(ticks, nil, 250000)
		// One tick at 250 kHz is ~0.15 m, so rounding stays within a tick.
		if math.Abs(back-meters) > 0.2 {
			t.Fatalf("round trip %v m -> %d ticks -> %v m", meters, ticks, back)
		}
	}
}

func TestDopplerTicksForVelocity_RoundTrips(t *testing.T) {
	mod := ModulationParams{SpreadingFactor: 9, BandwidthHz: 250000, RfFrequencyHz: 2450000000}
	for _, kmh := range []float64{-120, -5, 5, 60, 200} {
		doppler := DopplerTicksForVelocity(kmh, mod)
		back := RelativeVelocityKmh(0, doppler, mod)
		if math.Abs(back-kmh) > math.Abs(RelativeVelocityKmh(0, 1, mod)) {
			t.Fatalf("round trip %v km/h -> %d ticks -> %v km/h", kmh, doppler, back)
		}
	}
}
