// Package notify implements the ports.Notification adapter over NATS,
// adapted from libs/go/core/natsctx: trace-context propagation via message
// headers so a downstream subscriber's span links back to the optimization
// or transition that triggered the event.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/wavecoord/internal/ports"
)

var propagator = propagation.TraceContext{}

// Publisher publishes ports.Event notifications onto a NATS subject
// namespace, one subject per event name.
type Publisher struct {
	nc           *nats.Conn
	subjectPrefix string
}

// New wraps an already-connected NATS connection. subjectPrefix is prepended
// to every event name to form the published subject, e.g. "wavecoord.events".
func New(nc *nats.Conn, subjectPrefix string) *Publisher {
	return &Publisher{nc: nc, subjectPrefix: subjectPrefix}
}

type envelope struct {
	Event ports.Event    `json:"event"`
	Data  map[string]any `json:"data"`
}

// Notify implements ports.Notification.
func (p *Publisher) Notify(ctx context.Context, event ports.Event, data map[string]any) error {
	payload, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	hdr := nats.Header{}
	carrier := propagation.HeaderCarrier(hdr)
	propagator.Inject(ctx, carrier)

	msg := &nats.Msg{
		Subject: p.subjectPrefix + "." + string(event),
		Data:    payload,
		Header:  hdr,
	}
	return p.nc.PublishMsg(msg)
}

// Subscribe wraps nc.Subscribe, extracting the injected trace context and
// starting a consumer span before invoking handler, mirroring
// natsctx.Subscribe's shape for any external tool that wants to observe
// wavecoord events.
func Subscribe(nc *nats.Conn, subject string, handler func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(m *nats.Msg) {
		carrier := propagation.HeaderCarrier(m.Header)
		ctx := propagator.Extract(context.Background(), carrier)
		tr := otel.Tracer("wavecoord-notify")
		ctx, span := tr.Start(ctx, "nats.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		handler(ctx, m)
	})
}
