package intake

import (
	"testing"

	"github.com/zmlAEQ/mpc-intake/internal/keymgr"
)

func TestFingerprint_DeterministicAndDistinct(t *testing.T) {
	a := NewSignatureRequest(SignRequestArgs{DomainID: 1, Payload: EddsaPayload([]byte("msg")), Path: "m/0"}, "alice")
	b := NewSignatureRequest(SignRequestArgs{DomainID: 1, Payload: EddsaPayload([]byte("msg")), Path: "m/0"}, "alice")
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("identical requests produced different fingerprints")
	}
	variants := []SignatureRequest{
		NewSignatureRequest(SignRequestArgs{DomainID: 2, Payload: EddsaPayload([]byte("msg")), Path: "m/0"}, "alice"),
		NewSignatureRequest(SignRequestArgs{DomainID: 1, Payload: EddsaPayload([]byte("msh")), Path: "m/0"}, "alice"),
		NewSignatureRequest(SignRequestArgs{DomainID: 1, Payload: EddsaPayload([]byte("msg")), Path: "m/1"}, "alice"),
		NewSignatureRequest(SignRequestArgs{DomainID: 1, Payload: EddsaPayload([]byte("msg")), Path: "m/0"}, "bob"),
	}
	for i, v := range variants {
		if v.Fingerprint() == a.Fingerprint() {
			t.Fatalf("variant %d collided", i)
		}
	}
}

func TestFingerprint_FieldBoundaries(t *testing.T) {
	// Length prefixes keep adjacent string fields from bleeding into each
	// other.
	a := NewSignatureRequest(SignRequestArgs{DomainID: 1, Payload: EddsaPayload([]byte("m")), Path: "ab"}, "c")
	b := NewSignatureRequest(SignRequestArgs{DomainID: 1, Payload: EddsaPayload([]byte("m")), Path: "a"}, "bc")
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("field boundary collision")
	}
}

func TestPayload_CurveTag(t *testing.T) {
	var hash [32]byte
	if c := EcdsaPayload(hash).Curve(); c != keymgr.CurveSecp256k1 {
		t.Fatalf("ecdsa tag: %s", c)
	}
	if c := EddsaPayload([]byte("m")).Curve(); c != keymgr.CurveEd25519 {
		t.Fatalf("eddsa tag: %s", c)
	}
	if c := (Payload{}).Curve(); c != "" {
		t.Fatalf("untagged payload claims %s", c)
	}
}
