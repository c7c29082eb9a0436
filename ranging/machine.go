package ranging

// Event is one of the discrete notifications the radio delivers to the
// control loop. The source material expresses these as interrupt flags; here
// they are a tagged variant consumed by a pure transition function so the
// state machine is testable without hardware.
type Event int

const (
	// EventExchangeValid: a full ranging exchange completed and raw result
	// registers are ready to read.
	EventExchangeValid Event = iota
	// EventResponseDone: the responder finished transmitting its response
	// (one in standard mode, two in extended). Observability only.
	EventResponseDone
	// EventRequestDiscarded: a request arrived whose address did not match
	// the configured device address. Diagnostic, not an error.
	EventRequestDiscarded
	// EventTimeout: the initiator's bounded wait for an exchange elapsed.
	// A first-class outcome, not an error.
	EventTimeout
)

func (e Event) String() string {
	switch e {
	case EventExchangeValid:
		return "exchange-valid"
	case EventResponseDone:
		return "response-done"
	case EventRequestDiscarded:
		return "request-discarded"
	case EventTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Phase is the protocol phase of the role state machine.
type Phase int

const (
	// PhaseIdle: session not yet triggered.
	PhaseIdle Phase = iota
	// PhaseAwaitingExchange: initiator has transmitted a request and waits
	// for the exchange to complete or time out.
	PhaseAwaitingExchange
	// PhaseArmedResponder: the responder's resting state, continuous
	// receive. Entered once; events never leave it.
	PhaseArmedResponder
	// PhaseExchangeComplete: terminal per cycle on the initiator; Continue
	// loops it back into the next request.
	PhaseExchangeComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingExchange:
		return "awaiting-exchange"
	case PhaseArmedResponder:
		return "armed-responder"
	case PhaseExchangeComplete:
		return "exchange-complete"
	default:
		return "unknown"
	}
}

// ActionKind enumerates the side effects a transition can request. Keeping
// effects out of the decision logic is what makes Transition pure.
type ActionKind int

const (
	// ActionTransmitRequest: transmit the next ranging request. AfterDelay
	// selects whether the configured inter-exchange pause applies first.
	ActionTransmitRequest ActionKind = iota
	// ActionReadResult: read the raw ranging registers and run the
	// aggregator/converter pipeline.
	ActionReadResult
	// ActionEmitTimeout: surface an explicit timeout outcome, distinct
	// from a measurement.
	ActionEmitTimeout
	// ActionCountDiscard: bump the discarded-request diagnostics.
	ActionCountDiscard
	// ActionCountResponse: bump the responses-done diagnostics.
	ActionCountResponse
)

// Action is a side effect requested by the state machine and executed by
// the session controller.
type Action struct {
	Kind       ActionKind
	AfterDelay bool
}

// SessionState is the live state of the role state machine. It is owned by
// the Session and mutated only through Begin/Transition/Continue, never
// concurrently.
type SessionState struct {
	Role  Role
	Phase Phase
	// Spy lets a responder read the result registers of exchanges it
	// overhears. Without it, slave-side result-valid events are ignored.
	Spy bool

	// Cycle diagnostics.
	Transmits uint64 // requests put on the air, including retries
	Exchanges uint64 // valid exchanges observed
	Timeouts  uint64
	Discards  uint64
	Responses uint64
}

// Begin fires the external start trigger: the initiator transmits its first
// request immediately and starts waiting; the responder enters continuous
// receive and stays there.
func Begin(role Role, spy bool) (SessionState, []Action) {
	switch role {
	case RoleResponder:
		return SessionState{Role: role, Phase: PhaseArmedResponder, Spy: spy}, nil
	default:
		return SessionState{Role: role, Phase: PhaseAwaitingExchange, Spy: spy, Transmits: 1},
			[]Action{{Kind: ActionTransmitRequest}}
	}
}

// Transition consumes one radio event and returns the next state plus the
// side effects to execute. It never blocks and never touches the radio.
func Transition(s SessionState, ev Event) (SessionState, []Action) {
	switch s.Phase {
	case PhaseAwaitingExchange:
		return initiatorTransition(s, ev)
	case PhaseArmedResponder:
		return responderTransition(s, ev)
	default:
		// Idle and ExchangeComplete consume no events; Continue owns the
		// loop-back edge.
		return s, nil
	}
}

// Continue loops a completed initiator cycle back into the next request.
// The retry loop is unbounded by design: ranging is best-effort and
// link-quality dependent, and the caller stops it with cancellation.
func Continue(s SessionState) (SessionState, []Action) {
	if s.Phase != PhaseExchangeComplete {
		return s, nil
	}
	s.Phase = PhaseAwaitingExchange
	s.Transmits++
	return s, []Action{{Kind: ActionTransmitRequest, AfterDelay: true}}
}

func initiatorTransition(s SessionState, ev Event) (SessionState, []Action) {
	switch ev {
	case EventExchangeValid:
		s.Phase = PhaseExchangeComplete
		s.Exchanges++
		return s, []Action{{Kind: ActionReadResult}}
	case EventTimeout:
		// Exactly one retransmit per timeout, after the same
		// inter-exchange delay a successful cycle uses.
		s.Timeouts++
		s.Transmits++
		return s, []Action{
			{Kind: ActionEmitTimeout},
			{Kind: ActionTransmitRequest, AfterDelay: true},
		}
	default:
		return s, nil
	}
}

func responderTransition(s SessionState, ev Event) (SessionState, []Action) {
	switch ev {
	case EventRequestDiscarded:
		s.Discards++
		return s, []Action{{Kind: ActionCountDiscard}}
	case EventResponseDone:
		// The radio re-arms itself; this event exists for observability.
		s.Responses++
		return s, []Action{{Kind: ActionCountResponse}}
	case EventExchangeValid:
		// Only spy responders read results of overheard exchanges. Phase
		// is unchanged either way.
		if !s.Spy {
			return s, nil
		}
		s.Exchanges++
		return s, []Action{{Kind: ActionReadResult}}
	default:
		return s, nil
	}
}
