package host

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"lukechampine.com/blake3"

	"github.com/zmlAEQ/mpc-intake/pkg/lifecycle"
	"github.com/zmlAEQ/mpc-intake/pkg/logger"
	"github.com/zmlAEQ/mpc-intake/pkg/metrics"
)

// LocalEnv is an in-process stand-in for the ledger host's suspension
// primitive: an explicit continuation table plus a timeout scheduler. A
// suspension is allocated synchronously by YieldCreate and consumed exactly
// once, either by Resume (driven by the external finalizer) or by the
// watchdog expiring it through the configured expire hook.
type LocalEnv struct {
	mu      sync.Mutex
	clk     clock.Clock
	seed    [32]byte
	ctr     uint64
	pending map[Token]*suspension
	ttl     time.Duration

	onExpire func(Token)
	sink     TransferSink

	cancel context.CancelFunc
}

type suspension struct {
	arg      []byte
	gas      uint64
	deadline time.Time
	expiring bool
}

var ErrEmptyArg = errors.New("empty continuation argument")

// NewLocalEnv allocates an environment with a random token seed. ttl bounds
// how long a suspension may stay live before the watchdog expires it.
func NewLocalEnv(clk clock.Clock, ttl time.Duration) *LocalEnv {
	var seed [32]byte
	_, _ = rand.Read(seed[:])
	return NewLocalEnvSeeded(clk, ttl, seed)
}

// NewLocalEnvSeeded fixes the token seed; token allocation is then fully
// deterministic in allocation order.
func NewLocalEnvSeeded(clk clock.Clock, ttl time.Duration, seed [32]byte) *LocalEnv {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LocalEnv{
		clk:     clk,
		seed:    seed,
		pending: make(map[Token]*suspension),
		ttl:     ttl,
		sink:    noopSink{},
	}
}

// SetExpireFunc registers the hook invoked with each timed-out token. The
// hook is expected to route the token through the normal finalize path.
func (e *LocalEnv) SetExpireFunc(fn func(Token)) {
	e.mu.Lock()
	e.onExpire = fn
	e.mu.Unlock()
}

// SetTransferSink replaces the transfer sink (default: no-op).
func (e *LocalEnv) SetTransferSink(s TransferSink) {
	if s == nil {
		s = noopSink{}
	}
	e.mu.Lock()
	e.sink = s
	e.mu.Unlock()
}

func (e *LocalEnv) nextToken() Token {
	var buf [40]byte
	copy(buf[:32], e.seed[:])
	binary.BigEndian.PutUint64(buf[32:], e.ctr)
	e.ctr++
	return Token(blake3.Sum256(buf[:]))
}

// YieldCreate allocates a suspension bound to the serialized argument and a
// fixed gas allowance, returning its token synchronously.
func (e *LocalEnv) YieldCreate(_ context.Context, arg []byte, gas uint64) (Token, error) {
	if len(arg) == 0 {
		return Token{}, ErrEmptyArg
	}
	e.mu.Lock()
	tok := e.nextToken()
	e.pending[tok] = &suspension{arg: arg, gas: gas, deadline: e.clk.Now().Add(e.ttl)}
	n := len(e.pending)
	e.mu.Unlock()
	metrics.Inc("host_yields_total", nil)
	logger.InfoJ("host_env", map[string]any{"op": "yield_create", "token": tok.String(), "pending": n})
	return tok, nil
}

// Resume consumes the suspension for the token, returning its argument.
// A token resumed before, expired and consumed, or never allocated yields
// ok=false.
func (e *LocalEnv) Resume(tok Token) ([]byte, bool) {
	e.mu.Lock()
	s, ok := e.pending[tok]
	if ok {
		delete(e.pending, tok)
	}
	e.mu.Unlock()
	if !ok {
		metrics.Inc("host_resumes_total", map[string]string{"result": "miss"})
		return nil, false
	}
	metrics.Inc("host_resumes_total", map[string]string{"result": "ok"})
	return s.arg, true
}

// Transfer schedules a native-token transfer; fire-and-forget.
func (e *LocalEnv) Transfer(account string, amount uint64) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	logger.InfoJ("host_env", map[string]any{"op": "transfer", "account": account, "amount": amount})
	metrics.Inc("host_transfers_total", nil)
	go sink.Publish(TransferRecord{Account: account, Amount: amount})
}

// RandomSeed returns host-provided randomness for the current call.
func (e *LocalEnv) RandomSeed() [32]byte {
	var buf [41]byte
	copy(buf[:32], e.seed[:])
	buf[32] = 0x72 // 'r'
	e.mu.Lock()
	binary.BigEndian.PutUint64(buf[33:], e.ctr)
	e.mu.Unlock()
	return blake3.Sum256(buf[:])
}

// Pending reports the number of live suspensions.
func (e *LocalEnv) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *LocalEnv) Name() string { return "host-env" }

func (e *LocalEnv) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	go e.watchdog(ctx)
	logger.InfoJ("service_op", map[string]any{"service": "host-env", "op": "start", "result": "ok"})
	return nil
}

func (e *LocalEnv) Stop(context.Context) error {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()
	logger.InfoJ("service_op", map[string]any{"service": "host-env", "op": "stop", "result": "ok"})
	return nil
}

func (e *LocalEnv) watchdog(ctx context.Context) {
	t := e.clk.Ticker(100 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.expireDue()
		}
	}
}

// expireDue hands each timed-out suspension to the expire hook exactly once.
// The hook consumes the suspension via Resume; without a hook the suspension
// is dropped here.
func (e *LocalEnv) expireDue() {
	now := e.clk.Now()
	e.mu.Lock()
	var due []Token
	for tok, s := range e.pending {
		if !s.expiring && !s.deadline.After(now) {
			s.expiring = true
			due = append(due, tok)
		}
	}
	fn := e.onExpire
	e.mu.Unlock()
	for _, tok := range due {
		metrics.Inc("host_timeouts_total", nil)
		logger.InfoJ("host_env", map[string]any{"op": "timeout", "token": tok.String()})
		if fn != nil {
			fn(tok)
		} else {
			e.Resume(tok)
		}
	}
}

var _ lifecycle.Service = (*LocalEnv)(nil)
