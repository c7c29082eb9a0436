package ranging

import "time"

// Role selects which side of the ranging exchange this node drives.
type Role int

const (
	// RoleInitiator transmits ranging requests and measures the round trip.
	RoleInitiator Role = iota
	// RoleResponder sits in continuous receive and answers matching requests.
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// ModulationParams are the chirp modulation settings shared by both ends of
// a ranging session. Bandwidth and spreading factor jointly determine the
// timing-tick duration and the maximum unambiguous distance, so they are
// immutable once a session starts.
type ModulationParams struct {
	SpreadingFactor int
	BandwidthHz     uint32
	RfFrequencyHz   uint32
}

// Supported spreading factor range for ranging-capable chirp modems.
const (
	MinSpreadingFactor = 5
	MaxSpreadingFactor = 12
)

// Validate checks the modulation parameters against the supported ranges.
func (m ModulationParams) Validate() error {
	if m.SpreadingFactor < MinSpreadingFactor || m.SpreadingFactor > MaxSpreadingFactor {
		return &ConfigError{Field: "SpreadingFactor", Reason: "must be in [5,12]"}
	}
	if m.BandwidthHz == 0 {
		return &ConfigError{Field: "BandwidthHz", Reason: "must be positive"}
	}
	if m.RfFrequencyHz == 0 {
		return &ConfigError{Field: "RfFrequencyHz", Reason: "must be positive"}
	}
	return nil
}

// RangingConfig is the full session configuration. It is owned by the
// Session and read-only to the state machine; calibration inputs (RSSI
// offset, TX/RX delay) are captured here exactly once at session start so
// externally recomputed values cannot jitter into a running session.
type RangingConfig struct {
	Role     Role
	Extended bool
	SpyMode  bool

	// NumSymbols controls the ranging symbol count per exchange. The
	// hardware accepts [1,255]; in practice [8,15] is the useful window.
	NumSymbols int

	DeviceAddress  uint32
	RequestAddress uint32 // initiator only: address placed in the request

	// TxRxDelayTicks is the turnaround calibration in timing ticks. In
	// standard mode a zero value means "use the driver's base delay
	// table". Extended mode has no vendor-documented formula, so there it
	// must be an externally calibrated, explicitly configured value.
	TxRxDelayTicks int32

	// RssiOffsetDb is added to the raw per-exchange RSSI to obtain dBm.
	RssiOffsetDb int32

	// Interval is the pause between consecutive initiator exchanges.
	Interval time.Duration
}

// Validate checks the ranging configuration for a given role. It runs
// before any radio transmission, so an invalid combination can never reach
// the air.
func (c RangingConfig) Validate() error {
	if c.Role != RoleInitiator && c.Role != RoleResponder {
		return &ConfigError{Field: "Role", Reason: "must be initiator or responder"}
	}
	if c.NumSymbols < 1 || c.NumSymbols > 255 {
		return &ConfigError{Field: "NumSymbols", Reason: "must be in [1,255]"}
	}
	if c.Role == RoleInitiator && c.RequestAddress == 0 {
		return &ConfigError{Field: "RequestAddress", Reason: "initiator requires a request address"}
	}
	if c.Extended && c.TxRxDelayTicks == 0 {
		// There is no documented delay formula for the second
		// sub-exchange's chirp configuration; refusing to guess here is
		// deliberate.
		return &ConfigError{Field: "TxRxDelayTicks", Reason: "extended mode requires a calibrated turnaround delay"}
	}
	if c.Interval < 0 {
		return &ConfigError{Field: "Interval", Reason: "must not be negative"}
	}
	return nil
}
