package intake

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/zmlAEQ/mpc-intake/internal/keymgr"
)

// GasForSignCall is the budget a sign call must have reserved to cover the
// eventual resume callback's worst-case cost.
const GasForSignCall uint64 = 10_000_000_000_000

// ResumeGasAllowance is the fixed allowance bound to each continuation.
const ResumeGasAllowance uint64 = 8_000_000_000_000

// maxEddsaMessage bounds the raw message accepted for ed25519 signing.
const maxEddsaMessage = 1232

// KeyDirectory is the key-management query the validator depends on.
type KeyDirectory interface {
	PublicKey(id keymgr.DomainID) (keymgr.KeyDescriptor, error)
}

// Validator checks a request against the domain's key and the call's
// reserved budget. It performs no mutation; every check must pass before the
// fee collector or the registry is touched.
type Validator struct {
	keys KeyDirectory
}

func NewValidator(keys KeyDirectory) *Validator { return &Validator{keys: keys} }

// Validate returns the domain's key descriptor when the request is
// acceptable. The payload check mirrors what the MPC nodes themselves will
// enforce, so a request that passes here cannot fail for shape reasons
// off-chain.
func (v *Validator) Validate(args SignRequestArgs, reservedGas uint64) (keymgr.KeyDescriptor, error) {
	desc, err := v.keys.PublicKey(args.DomainID)
	if err != nil {
		if errors.Is(err, keymgr.ErrDomainUnknown) {
			return keymgr.KeyDescriptor{}, fmt.Errorf("%w: no key for domain %d", ErrDomainNotFound, args.DomainID)
		}
		return keymgr.KeyDescriptor{}, err
	}
	if args.Payload.Curve() != desc.Curve {
		return keymgr.KeyDescriptor{}, fmt.Errorf("%w: domain %d expects %s", ErrPayloadCurveMismatch, args.DomainID, desc.Curve)
	}
	switch desc.Curve {
	case keymgr.CurveSecp256k1:
		var s secp256k1.ModNScalar
		if overflow := s.SetBytes(args.Payload.Ecdsa); overflow != 0 {
			return keymgr.KeyDescriptor{}, fmt.Errorf("%w: ecdsa prehash is not a valid scalar", ErrInvalidPayload)
		}
	case keymgr.CurveEd25519:
		if n := len(args.Payload.Eddsa); n == 0 || n > maxEddsaMessage {
			return keymgr.KeyDescriptor{}, fmt.Errorf("%w: eddsa message length %d", ErrInvalidPayload, n)
		}
	}
	if reservedGas < GasForSignCall {
		return keymgr.KeyDescriptor{}, fmt.Errorf("%w: provided %d, required %d", ErrInsufficientGas, reservedGas, GasForSignCall)
	}
	return desc, nil
}
