package ranging

import "testing"

func TestBegin_Initiator(t *testing.T) {
	s, actions := Begin(RoleInitiator, false)
	if s.Phase != PhaseAwaitingExchange {
		t.Fatalf("phase = %v, want awaiting-exchange", s.Phase)
	}
	if s.Transmits != 1 {
		t.Fatalf("transmits = %d, want 1", s.Transmits)
	}
	if len(actions) != 1 || actions[0].Kind != ActionTransmitRequest || actions[0].AfterDelay {
		t.Fatalf("expected one immediate transmit action, got %#v", actions)
	}
}

func TestBegin_Responder(t *testing.T) {
	s, actions := Begin(RoleResponder, false)
	if s.Phase != PhaseArmedResponder {
		t.Fatalf("phase = %v, want armed-responder", s.Phase)
	}
	if len(actions) != 0 {
		t.Fatalf("responder start should take no actions, got %#v", actions)
	}
}

// After N consecutive timeouts the initiator must still be awaiting an
// exchange, with exactly one retransmit per timeout queued behind the
// inter-exchange delay.
func TestInitiator_NTimeoutsBoundedRetry(t *testing.T) {
	const n = 25
	s, _ := Begin(RoleInitiator, false)

	for i := 0; i < n; i++ {
		var actions []Action
		s, actions = Transition(s, EventTimeout)

		if s.Phase != PhaseAwaitingExchange {
			t.Fatalf("timeout %d: phase = %v, want awaiting-exchange", i, s.Phase)
		}
		transmits := 0
		timeoutEmits := 0
		for _, a := range actions {
			switch a.Kind {
			case ActionTransmitRequest:
				transmits++
				if !a.AfterDelay {
					t.Fatalf("timeout %d: retransmit must wait out the inter-exchange delay", i)
				}
			case ActionEmitTimeout:
				timeoutEmits++
			}
		}
		if transmits != 1 || timeoutEmits != 1 {
			t.Fatalf("timeout %d: got %d transmits and %d timeout emissions, want 1 and 1", i, transmits, timeoutEmits)
		}
	}

	if s.Timeouts != n {
		t.Fatalf("timeouts = %d, want %d", s.Timeouts, n)
	}
	// Initial transmit plus one retransmit per timeout, no duplicates.
	if s.Transmits != n+1 {
		t.Fatalf("transmits = %d, want %d", s.Transmits, n+1)
	}
}

func TestInitiator_ExchangeValidCycle(t *testing.T) {
	s, _ := Begin(RoleInitiator, false)

	s, actions := Transition(s, EventExchangeValid)
	if s.Phase != PhaseExchangeComplete {
		t.Fatalf("phase = %v, want exchange-complete", s.Phase)
	}
	if len(actions) != 1 || actions[0].Kind != ActionReadResult {
		t.Fatalf("expected a single read-result action, got %#v", actions)
	}

	s, actions = Continue(s)
	if s.Phase != PhaseAwaitingExchange {
		t.Fatalf("after continue: phase = %v, want awaiting-exchange", s.Phase)
	}
	if s.Transmits != 2 {
		t.Fatalf("transmits = %d, want 2", s.Transmits)
	}
	if len(actions) != 1 || actions[0].Kind != ActionTransmitRequest || !actions[0].AfterDelay {
		t.Fatalf("expected one delayed transmit action, got %#v", actions)
	}
}

func TestContinue_NoOpOutsideExchangeComplete(t *testing.T) {
	s, _ := Begin(RoleResponder, false)
	next, actions := Continue(s)
	if next != s || len(actions) != 0 {
		t.Fatalf("continue on %v must be a no-op, got %#v %#v", s.Phase, next, actions)
	}
}

// A discarded request is diagnostic only: no phase change, no measurement
// pipeline, just a counter bump.
func TestResponder_RequestDiscardedKeepsState(t *testing.T) {
	s, _ := Begin(RoleResponder, false)
	before := s

	s, actions := Transition(s, EventRequestDiscarded)
	if s.Phase != before.Phase {
		t.Fatalf("phase changed on discard: %v -> %v", before.Phase, s.Phase)
	}
	if s.Discards != 1 {
		t.Fatalf("discards = %d, want 1", s.Discards)
	}
	for _, a := range actions {
		if a.Kind == ActionReadResult || a.Kind == ActionTransmitRequest {
			t.Fatalf("discard must not trigger %v", a.Kind)
		}
	}
}

func TestResponder_ResponseDoneIsObservabilityOnly(t *testing.T) {
	s, _ := Begin(RoleResponder, false)

	for i := 0; i < 3; i++ {
		var actions []Action
		s, actions = Transition(s, EventResponseDone)
		if s.Phase != PhaseArmedResponder {
			t.Fatalf("phase = %v, want armed-responder", s.Phase)
		}
		if len(actions) != 1 || actions[0].Kind != ActionCountResponse {
			t.Fatalf("expected only a response counter bump, got %#v", actions)
		}
	}
	if s.Responses != 3 {
		t.Fatalf("responses = %d, want 3", s.Responses)
	}
}

func TestResponder_SpyObservationReadsResult(t *testing.T) {
	s, _ := Begin(RoleResponder, true)

	s, actions := Transition(s, EventExchangeValid)
	if s.Phase != PhaseArmedResponder {
		t.Fatalf("phase = %v, responder must stay armed", s.Phase)
	}
	if len(actions) != 1 || actions[0].Kind != ActionReadResult {
		t.Fatalf("expected read-result, got %#v", actions)
	}
	if s.Exchanges != 1 {
		t.Fatalf("exchanges = %d, want 1", s.Exchanges)
	}
}

// A responder that is not spying must ignore result-valid events entirely;
// overheard exchanges never reach the measurement pipeline.
func TestResponder_NonSpyIgnoresOverheardExchange(t *testing.T) {
	s, _ := Begin(RoleResponder, false)
	before := s

	s, actions := Transition(s, EventExchangeValid)
	if s != before {
		t.Fatalf("state changed: %#v -> %#v", before, s)
	}
	if len(actions) != 0 {
		t.Fatalf("non-spy responder must take no actions, got %#v", actions)
	}
}

func TestTransition_IdleConsumesNothing(t *testing.T) {
	s := SessionState{Role: RoleInitiator, Phase: PhaseIdle}
	for _, ev := range []Event{EventExchangeValid, EventResponseDone, EventRequestDiscarded, EventTimeout} {
		next, actions := Transition(s, ev)
		if next != s || len(actions) != 0 {
			t.Fatalf("idle must ignore %v", ev)
		}
	}
}
