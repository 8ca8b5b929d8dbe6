package host

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestYieldCreate_TokensDeterministicPerSeed(t *testing.T) {
	var seed [32]byte
	seed[5] = 1
	a := NewLocalEnvSeeded(clock.NewMock(), time.Minute, seed)
	b := NewLocalEnvSeeded(clock.NewMock(), time.Minute, seed)
	ta, err := a.YieldCreate(context.Background(), []byte("arg"), 1)
	if err != nil {
		t.Fatalf("yield: %v", err)
	}
	tb, _ := b.YieldCreate(context.Background(), []byte("arg"), 1)
	if ta != tb {
		t.Fatal("same seed and order produced different tokens")
	}
	ta2, _ := a.YieldCreate(context.Background(), []byte("arg"), 1)
	if ta == ta2 {
		t.Fatal("consecutive allocations produced the same token")
	}
}

func TestYieldCreate_EmptyArg(t *testing.T) {
	e := NewLocalEnv(clock.NewMock(), time.Minute)
	if _, err := e.YieldCreate(context.Background(), nil, 1); err == nil {
		t.Fatal("expected error for empty argument")
	}
}

func TestResume_ConsumesOnce(t *testing.T) {
	e := NewLocalEnv(clock.NewMock(), time.Minute)
	tok, _ := e.YieldCreate(context.Background(), []byte("payload"), 1)
	arg, ok := e.Resume(tok)
	if !ok || string(arg) != "payload" {
		t.Fatalf("resume: ok=%v arg=%q", ok, arg)
	}
	if _, ok := e.Resume(tok); ok {
		t.Fatal("token resumed twice")
	}
	if _, ok := e.Resume(Token{}); ok {
		t.Fatal("unknown token resumed")
	}
}

func TestWatchdog_ExpiresThroughHook(t *testing.T) {
	clk := clock.NewMock()
	e := NewLocalEnvSeeded(clk, 2*time.Second, [32]byte{1})
	var mu sync.Mutex
	var expired []Token
	e.SetExpireFunc(func(tok Token) {
		mu.Lock()
		expired = append(expired, tok)
		mu.Unlock()
		e.Resume(tok)
	})
	tok, _ := e.YieldCreate(context.Background(), []byte("a"), 1)

	e.expireDue() // before the deadline: nothing fires
	mu.Lock()
	n := len(expired)
	mu.Unlock()
	if n != 0 {
		t.Fatal("expired before deadline")
	}

	clk.Add(3 * time.Second)
	e.expireDue()
	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != tok {
		t.Fatalf("expected one expiry for %v, got %v", tok, expired)
	}
	if e.Pending() != 0 {
		t.Fatal("suspension still live after expiry")
	}
}

func TestWatchdog_FiresHookOncePerToken(t *testing.T) {
	clk := clock.NewMock()
	e := NewLocalEnvSeeded(clk, time.Second, [32]byte{2})
	calls := 0
	// Hook deliberately does not consume, as when finalize is slow.
	e.SetExpireFunc(func(Token) { calls++ })
	_, _ = e.YieldCreate(context.Background(), []byte("a"), 1)
	clk.Add(2 * time.Second)
	e.expireDue()
	e.expireDue()
	if calls != 1 {
		t.Fatalf("expected a single expiry callback, got %d", calls)
	}
}

func TestTransfer_ReachesSink(t *testing.T) {
	e := NewLocalEnv(clock.NewMock(), time.Minute)
	ch := make(chan TransferRecord, 1)
	e.SetTransferSink(sinkFunc(func(rec TransferRecord) { ch <- rec }))
	e.Transfer("alice", 4)
	select {
	case rec := <-ch:
		if rec.Account != "alice" || rec.Amount != 4 {
			t.Fatalf("bad record: %+v", rec)
		}
	case <-time.After(time.Second):
		t.Fatal("transfer never reached sink")
	}
}

type sinkFunc func(TransferRecord)

func (f sinkFunc) Publish(rec TransferRecord) { f(rec) }
