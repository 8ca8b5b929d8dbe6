package intake

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zmlAEQ/mpc-intake/internal/host"
	"github.com/zmlAEQ/mpc-intake/pkg/bus"
	"github.com/zmlAEQ/mpc-intake/pkg/lifecycle"
	"github.com/zmlAEQ/mpc-intake/pkg/logger"
	"github.com/zmlAEQ/mpc-intake/pkg/metrics"
	"github.com/zmlAEQ/mpc-intake/pkg/trace"
)

// HostEnv is the slice of the host environment the bridge depends on:
// continuation allocation, exactly-once resume, and call randomness.
type HostEnv interface {
	YieldCreate(ctx context.Context, arg []byte, gas uint64) (host.Token, error)
	Resume(tok host.Token) ([]byte, bool)
	RandomSeed() [32]byte
}

// Service bridges a synchronous sign call with the externally-completed MPC
// computation. Sign validates, charges the fee, suspends, and returns; the
// host (or its timeout scheduler) later drives Finalize with the outcome.
type Service struct {
	validator *Validator
	fees      *FeeCollector
	registry  *Registry
	env       HostEnv
	bus       *bus.Bus
}

func New(v *Validator, f *FeeCollector, r *Registry, env HostEnv, b *bus.Bus) *Service {
	return &Service{validator: v, fees: f, registry: r, env: env, bus: b}
}

func (s *Service) Name() string { return "intake" }

func (s *Service) Start(ctx context.Context) error {
	begin := time.Now()
	dur := time.Since(begin).Milliseconds()
	logger.InfoJ("service_op", map[string]any{"service": "intake", "op": "start", "result": "ok", "latency_ms": dur})
	metrics.ObserveSummary("service_op_ms", map[string]string{"service": "intake", "op": "start"}, float64(dur))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	begin := time.Now()
	dur := time.Since(begin).Milliseconds()
	logger.InfoJ("service_op", map[string]any{"service": "intake", "op": "stop", "result": "ok", "latency_ms": dur})
	metrics.ObserveSummary("service_op_ms", map[string]string{"service": "intake", "op": "stop"}, float64(dur))
	return nil
}

// Sign validates the request, collects the fee, and suspends a continuation
// for the MPC cluster to complete. Returns the continuation token without
// blocking on the result. All precondition checks run before any mutation;
// a rejected request leaves no state behind.
func (s *Service) Sign(ctx context.Context, requester string, args SignRequestArgs, deposit, reservedGas uint64) (host.Token, error) {
	ctx, tid := trace.Ensure(ctx)
	begin := time.Now()
	logger.InfoJ("sign_intake", map[string]any{
		"requester": requester, "domain": uint64(args.DomainID), "path": args.Path,
		"deposit": deposit, "gas": reservedGas, "trace_id": tid,
	})

	if _, err := s.validator.Validate(args, reservedGas); err != nil {
		s.reject(err, tid)
		return host.Token{}, err
	}
	refund, err := s.fees.Collect(requester, deposit)
	if err != nil {
		s.reject(err, tid)
		return host.Token{}, err
	}
	if refund > 0 {
		s.bus.Publish(ctx, bus.Event{Kind: bus.KindRefund, Requester: requester, Body: refund, TraceID: tid})
	}

	req := NewSignatureRequest(args, requester)
	seed := s.env.RandomSeed()
	logger.InfoJ("sign_intake", map[string]any{"op": "randomness", "seed": hex.EncodeToString(seed[:]), "trace_id": tid})

	blob, err := json.Marshal(req)
	if err != nil {
		return host.Token{}, fmt.Errorf("encode request: %w", err)
	}
	tok, err := s.env.YieldCreate(ctx, blob, ResumeGasAllowance)
	if err != nil {
		// Internal consistency fault; the host's all-or-nothing call
		// semantics roll back the call.
		logger.ErrorJ("sign_intake", map[string]any{"result": "yield_error", "err": err.Error(), "trace_id": tid})
		return host.Token{}, err
	}
	if s.registry.Insert(req.Fingerprint(), tok) {
		logger.InfoJ("sign_intake", map[string]any{"result": "duplicate", "detail": "request already pending, overriding callback", "trace_id": tid})
		metrics.Inc("intake_requests_total", map[string]string{"result": "duplicate"})
	} else {
		metrics.Inc("intake_requests_total", map[string]string{"result": "accepted"})
	}
	metrics.ObserveSummary("sign_intake_ms", nil, float64(time.Since(begin).Milliseconds()))
	logger.InfoJ("sign_intake", map[string]any{"result": "suspended", "token": tok.String(), "trace_id": tid})
	return tok, nil
}

func (s *Service) reject(err error, tid string) {
	logger.InfoJ("sign_intake", map[string]any{"result": "rejected", "err": err.Error(), "trace_id": tid})
	metrics.Inc("intake_requests_total", map[string]string{"result": "rejected"})
}

// Finalize consumes an externally-delivered outcome for a suspended call:
// it resumes the continuation, removes the matching registry entry, and
// delivers the outcome to the requester's context. A token that was already
// finalized, or whose registry entry was superseded by a dedup overwrite, is
// a logged no-op.
func (s *Service) Finalize(ctx context.Context, tok host.Token, outcome Outcome) error {
	ctx, tid := trace.Ensure(ctx)
	arg, ok := s.env.Resume(tok)
	if !ok {
		logger.InfoJ("finalize", map[string]any{"result": "noop", "reason": "token_not_live", "token": tok.String(), "trace_id": tid})
		metrics.Inc("intake_finalize_total", map[string]string{"result": "noop"})
		return nil
	}
	var req SignatureRequest
	if err := json.Unmarshal(arg, &req); err != nil {
		// The continuation argument is written by Sign; failing to decode it
		// is an internal consistency fault, fatal for this call.
		logger.ErrorJ("finalize", map[string]any{"result": "decode_error", "err": err.Error(), "trace_id": tid})
		return fmt.Errorf("decode continuation argument: %w", err)
	}
	fp := req.Fingerprint()
	if !s.registry.RemoveIf(fp, tok) {
		// Either the entry is already gone, or a newer identical request
		// superseded this continuation and owns it. The compare-and-remove is
		// one critical section: the timeout watchdog and the finalize surface
		// race here, and the superseded path must never touch the live entry.
		logger.InfoJ("finalize", map[string]any{"result": "noop", "reason": "no_live_entry", "fingerprint": fp.String(), "trace_id": tid})
		metrics.Inc("intake_finalize_total", map[string]string{"result": "noop"})
		return nil
	}

	result := "ok"
	if !outcome.OK() {
		result = string(outcome.Failure)
	}
	// The registry entry is gone; dropping the outcome here would strand the
	// requester, so this send waits out backpressure.
	s.bus.PublishSync(ctx, bus.Event{Kind: bus.KindOutcome, Requester: req.Requester, Token: tok.String(), Body: outcome, TraceID: tid})
	logger.InfoJ("finalize", map[string]any{"result": result, "fingerprint": fp.String(), "token": tok.String(), "trace_id": tid})
	metrics.Inc("intake_finalize_total", map[string]string{"result": result})
	return nil
}

// Pending lists the fingerprints of live requests.
func (s *Service) Pending() []Fingerprint { return s.registry.Fingerprints() }

var _ lifecycle.Service = (*Service)(nil)
