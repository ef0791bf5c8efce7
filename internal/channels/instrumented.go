package channels

import (
	"context"

	"sneaky-linq/internal/domain"
)

// SendRecorder cuenta los envelopes que salen por el layer.
type SendRecorder interface {
	ObserveSend(event string, delivered bool)
	ObserveGroupSend(group string, delivered int)
}

// InstrumentedLayer envuelve un Layer y registra cada envio.
type InstrumentedLayer struct {
	Layer
	recorder SendRecorder
}

func NewInstrumentedLayer(inner Layer, recorder SendRecorder) Layer {
	if recorder == nil {
		return inner
	}
	return &InstrumentedLayer{Layer: inner, recorder: recorder}
}

func (l *InstrumentedLayer) Send(ctx context.Context, address string, env domain.Envelope) error {
	err := l.Layer.Send(ctx, address, env)
	l.recorder.ObserveSend(string(env.Event), err == nil)
	return err
}

func (l *InstrumentedLayer) GroupSend(ctx context.Context, group string, env domain.Envelope) int {
	n := l.Layer.GroupSend(ctx, group, env)
	l.recorder.ObserveGroupSend(group, n)
	return n
}
