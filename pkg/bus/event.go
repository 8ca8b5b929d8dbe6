package bus

import (
	"context"
)

type Kind string

const (
	// KindOutcome carries a finalized signature outcome back to the
	// requester's context.
	KindOutcome Kind = "outcome"
	// KindRefund reports an excess-deposit refund scheduled for a requester.
	KindRefund Kind = "refund"
)

type Event struct {
	Kind      Kind
	Requester string
	Token     string
	Body      any
	TraceID   string
}

type Subscriber chan Event

type Bus struct {
	pub chan Event
}

func New(size int) *Bus {
	if size <= 0 {
		size = 128
	}
	return &Bus{pub: make(chan Event, size)}
}

func (b *Bus) Publish(_ context.Context, ev Event) {
	select {
	case b.pub <- ev:
	default: /* drop on backpressure */
	}
}

// PublishSync blocks until the event is queued or the context ends. For
// events whose loss would diverge from state already committed elsewhere.
func (b *Bus) PublishSync(ctx context.Context, ev Event) {
	select {
	case b.pub <- ev:
	case <-ctx.Done():
	}
}

func (b *Bus) Subscribe() Subscriber { return b.pub }
