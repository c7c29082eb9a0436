package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/chirp-ranging/history"
	"github.com/signalsfoundry/chirp-ranging/internal/logging"
	"github.com/signalsfoundry/chirp-ranging/ranging"
)

// Outcomes still buffered when the session ends must reach the consumer
// before the exit error is reported.
func TestLogOutcomesDrainsBufferedOutcomes(t *testing.T) {
	outcomes := make(chan ranging.Outcome, 4)
	for i := 0; i < 3; i++ {
		outcomes <- ranging.Outcome{
			Kind: ranging.OutcomeMeasurement,
			Measurement: ranging.Measurement{
				Timestamp:      time.Now(),
				DistanceMeters: float64(100 + i),
				RssiDbm:        -70,
			},
		}
	}
	outcomes <- ranging.Outcome{Kind: ranging.OutcomeTimeout}
	close(outcomes)

	sessionDone := make(chan error, 1)
	wantErr := errors.New("session stopped")
	sessionDone <- wantErr

	measurements := history.NewLog(8)
	err := logOutcomes(context.Background(), logging.Noop(), outcomes, measurements, sessionDone)

	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want the session exit error", err)
	}
	if measurements.Total() != 3 {
		t.Fatalf("recorded %d measurements, want all 3 buffered ones", measurements.Total())
	}
}
