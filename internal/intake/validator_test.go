package intake

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zmlAEQ/mpc-intake/internal/keymgr"
)

// stubKeys implements KeyDirectory for tests.
type stubKeys map[keymgr.DomainID]keymgr.KeyDescriptor

func (s stubKeys) PublicKey(id keymgr.DomainID) (keymgr.KeyDescriptor, error) {
	d, ok := s[id]
	if !ok {
		return keymgr.KeyDescriptor{}, keymgr.ErrDomainUnknown
	}
	return d, nil
}

func testKeys() stubKeys {
	return stubKeys{
		0: {Curve: keymgr.CurveEd25519, PublicKey: bytes.Repeat([]byte{1}, 32)},
		1: {Curve: keymgr.CurveSecp256k1, PublicKey: bytes.Repeat([]byte{2}, 33)},
	}
}

func TestValidate_DomainNotFound(t *testing.T) {
	v := NewValidator(testKeys())
	_, err := v.Validate(SignRequestArgs{DomainID: 9, Payload: EddsaPayload([]byte("m"))}, GasForSignCall)
	if !errors.Is(err, ErrDomainNotFound) {
		t.Fatalf("expected ErrDomainNotFound, got %v", err)
	}
}

func TestValidate_CurveMismatch_EcdsaOnEddsaDomain(t *testing.T) {
	// Domain 0 holds an ed25519 key; an ecdsa-tagged payload must be refused.
	v := NewValidator(testKeys())
	var hash [32]byte
	hash[31] = 7
	_, err := v.Validate(SignRequestArgs{DomainID: 0, Payload: EcdsaPayload(hash)}, GasForSignCall)
	if !errors.Is(err, ErrPayloadCurveMismatch) {
		t.Fatalf("expected ErrPayloadCurveMismatch, got %v", err)
	}
}

func TestValidate_EcdsaScalarOverflow(t *testing.T) {
	v := NewValidator(testKeys())
	var hash [32]byte
	for i := range hash {
		hash[i] = 0xff // above the secp256k1 group order
	}
	_, err := v.Validate(SignRequestArgs{DomainID: 1, Payload: EcdsaPayload(hash)}, GasForSignCall)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestValidate_EddsaEmptyMessage(t *testing.T) {
	v := NewValidator(testKeys())
	_, err := v.Validate(SignRequestArgs{DomainID: 0, Payload: EddsaPayload(nil)}, GasForSignCall)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestValidate_InsufficientGas(t *testing.T) {
	v := NewValidator(testKeys())
	_, err := v.Validate(SignRequestArgs{DomainID: 0, Payload: EddsaPayload([]byte("m"))}, GasForSignCall-1)
	if !errors.Is(err, ErrInsufficientGas) {
		t.Fatalf("expected ErrInsufficientGas, got %v", err)
	}
}

func TestValidate_OK(t *testing.T) {
	v := NewValidator(testKeys())
	var hash [32]byte
	hash[31] = 7
	for _, args := range []SignRequestArgs{
		{DomainID: 0, Payload: EddsaPayload([]byte("msg")), Path: "m/0"},
		{DomainID: 1, Payload: EcdsaPayload(hash), Path: "m/1"},
	} {
		desc, err := v.Validate(args, GasForSignCall)
		if err != nil {
			t.Fatalf("validate %d: %v", args.DomainID, err)
		}
		if desc.Curve != args.Payload.Curve() {
			t.Fatalf("curve mismatch: %s vs %s", desc.Curve, args.Payload.Curve())
		}
	}
}

func TestValidate_NoMutationOnReject(t *testing.T) {
	// A rejected request must leave no trace: validation is the only step
	// that ran, and it holds no state.
	v := NewValidator(testKeys())
	r := NewRegistry()
	_, err := v.Validate(SignRequestArgs{DomainID: 9, Payload: EddsaPayload([]byte("m"))}, GasForSignCall)
	if err == nil {
		t.Fatal("expected error")
	}
	if r.Len() != 0 {
		t.Fatalf("registry mutated: %d entries", r.Len())
	}
}
