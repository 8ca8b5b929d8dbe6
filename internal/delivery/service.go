package delivery

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zmlAEQ/mpc-intake/internal/intake"
	"github.com/zmlAEQ/mpc-intake/pkg/bus"
	"github.com/zmlAEQ/mpc-intake/pkg/lifecycle"
	"github.com/zmlAEQ/mpc-intake/pkg/logger"
	"github.com/zmlAEQ/mpc-intake/pkg/metrics"
)

const retained = 4096

// Service drains the event bus and retains finalized outcomes so the
// original requester's context can collect them. Retention is bounded;
// uncollected outcomes age out.
type Service struct {
	sub    bus.Subscriber
	out    *lru.Cache[string, intake.Outcome]
	cancel context.CancelFunc
}

func New(sub bus.Subscriber) *Service {
	c, _ := lru.New[string, intake.Outcome](retained)
	return &Service{sub: sub, out: c}
}

func (s *Service) Name() string { return "delivery" }

func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(ctx)
	logger.InfoJ("service_op", map[string]any{"service": "delivery", "op": "start", "result": "ok"})
	return nil
}

func (s *Service) Stop(context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	logger.InfoJ("service_op", map[string]any{"service": "delivery", "op": "stop", "result": "ok"})
	return nil
}

func (s *Service) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.sub:
			switch ev.Kind {
			case bus.KindOutcome:
				oc, ok := ev.Body.(intake.Outcome)
				if !ok {
					continue
				}
				s.out.Add(ev.Token, oc)
				metrics.Inc("delivery_events_total", map[string]string{"kind": string(ev.Kind)})
				logger.InfoJ("delivery", map[string]any{"requester": ev.Requester, "token": ev.Token, "ok": oc.OK(), "trace_id": ev.TraceID})
			case bus.KindRefund:
				metrics.Inc("delivery_events_total", map[string]string{"kind": string(ev.Kind)})
				logger.InfoJ("delivery", map[string]any{"requester": ev.Requester, "refund": ev.Body, "trace_id": ev.TraceID})
			}
		}
	}
}

// Outcome returns the retained outcome for a token, if it has arrived and
// not aged out.
func (s *Service) Outcome(token string) (intake.Outcome, bool) {
	return s.out.Get(token)
}

var _ lifecycle.Service = (*Service)(nil)
