package keymgr

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func ed25519Desc() KeyDescriptor {
	return KeyDescriptor{Curve: CurveEd25519, PublicKey: bytes.Repeat([]byte{1}, 32)}
}

func TestStore_PutGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.dat")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.PutDomain(0, ed25519Desc()); err != nil {
		t.Fatalf("put: %v", err)
	}
	d, err := s.PublicKey(0)
	if err != nil || d.Curve != CurveEd25519 {
		t.Fatalf("get: %+v %v", d, err)
	}
	// second read comes from the cache
	if _, err := s.PublicKey(0); err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if _, err := s.PublicKey(7); !errors.Is(err, ErrDomainUnknown) {
		t.Fatalf("expected ErrDomainUnknown, got %v", err)
	}
}

func TestStore_ReloadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.dat")
	s, _ := NewStore(path)
	secp := KeyDescriptor{Curve: CurveSecp256k1, PublicKey: bytes.Repeat([]byte{2}, 33)}
	if err := s.PutDomain(1, secp); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutDomain(2, ed25519Desc()); err != nil {
		t.Fatalf("put: %v", err)
	}

	s2, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	d, err := s2.PublicKey(1)
	if err != nil || d.Curve != CurveSecp256k1 || len(d.PublicKey) != 33 {
		t.Fatalf("reloaded: %+v %v", d, err)
	}
	ids := s2.Domains()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("domains: %v", ids)
	}
}

func TestStore_ConcurrentReplaceServesFreshDescriptor(t *testing.T) {
	s, _ := NewStore("")
	a := ed25519Desc()
	b := KeyDescriptor{Curve: CurveEd25519, PublicKey: bytes.Repeat([]byte{9}, 32)}
	if err := s.PutDomain(0, a); err != nil {
		t.Fatalf("put: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			d, err := s.PublicKey(0)
			if err != nil {
				t.Errorf("read: %v", err)
				return
			}
			if d.PublicKey[0] != a.PublicKey[0] && d.PublicKey[0] != b.PublicKey[0] {
				t.Errorf("torn descriptor: %x", d.PublicKey[0])
				return
			}
		}
	}()
	for i := 0; i < 500; i++ {
		d := a
		if i%2 == 1 {
			d = b
		}
		if err := s.PutDomain(0, d); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()

	// After the last replace, every read (cold or cached) must serve it;
	// a fill that lost the race with the invalidation would pin the old one.
	for i := 0; i < 2; i++ {
		d, err := s.PublicKey(0)
		if err != nil || d.PublicKey[0] != b.PublicKey[0] {
			t.Fatalf("read %d served stale descriptor: %+v %v", i, d, err)
		}
	}
}

func TestStore_RejectsBadDescriptor(t *testing.T) {
	s, _ := NewStore("")
	if err := s.PutDomain(0, KeyDescriptor{Curve: "p256", PublicKey: []byte{1}}); !errors.Is(err, ErrBadDescriptor) {
		t.Fatalf("expected ErrBadDescriptor, got %v", err)
	}
	if err := s.PutDomain(0, KeyDescriptor{Curve: CurveEd25519, PublicKey: []byte{1, 2}}); !errors.Is(err, ErrBadDescriptor) {
		t.Fatalf("expected ErrBadDescriptor for short key, got %v", err)
	}
}

func TestStore_CorruptFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.dat")
	s, _ := NewStore(path)
	if err := s.PutDomain(0, ed25519Desc()); err != nil {
		t.Fatalf("put: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	b[len(b)-1] ^= 0xff // flip a body byte; CRC must catch it
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewStore(path); err == nil {
		t.Fatal("expected error on corrupt store")
	}
}
