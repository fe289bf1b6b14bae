package notify

import (
	"context"
	"encoding/json"
	"testing"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"

	"github.com/swarmguard/wavecoord/internal/ports"
)

func TestEnvelopeRoundTrips(t *testing.T) {
	env := envelope{Event: ports.EventBoundaryAdjusted, Data: map[string]any{"wave": float64(2)}}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Event != ports.EventBoundaryAdjusted {
		t.Fatalf("expected %s, got %s", ports.EventBoundaryAdjusted, decoded.Event)
	}
	if decoded.Data["wave"] != float64(2) {
		t.Fatalf("expected wave 2, got %v", decoded.Data["wave"])
	}
}

func TestTraceContextInjectedIntoHeader(t *testing.T) {
	hdr := nats.Header{}
	carrier := propagation.HeaderCarrier(hdr)
	propagator.Inject(context.Background(), carrier)
	// With no active span in the context there is nothing to inject, but the
	// call must not panic and must leave a usable header.
	if hdr == nil {
		t.Fatal("expected non-nil header after inject")
	}
}
