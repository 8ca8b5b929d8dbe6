package intake

import (
	"encoding/binary"
	"encoding/hex"

	"lukechampine.com/blake3"

	"github.com/zmlAEQ/mpc-intake/internal/keymgr"
)

// Payload carries the data to sign, tagged with its claimed curve. Exactly
// one arm is set: a 32-byte prehash for ECDSA, the raw message for EdDSA.
type Payload struct {
	Ecdsa *[32]byte `json:"ecdsa,omitempty"`
	Eddsa []byte    `json:"eddsa,omitempty"`
}

// EcdsaPayload tags a 32-byte prehash for secp256k1 signing.
func EcdsaPayload(hash [32]byte) Payload { return Payload{Ecdsa: &hash} }

// EddsaPayload tags a raw message for ed25519 signing.
func EddsaPayload(msg []byte) Payload { return Payload{Eddsa: msg} }

// Curve returns the curve the payload claims, or "" when the tag is absent
// or ambiguous.
func (p Payload) Curve() keymgr.CurveType {
	switch {
	case p.Ecdsa != nil && p.Eddsa == nil:
		return keymgr.CurveSecp256k1
	case p.Ecdsa == nil && p.Eddsa != nil:
		return keymgr.CurveEd25519
	}
	return ""
}

// SignRequestArgs is the caller-supplied portion of a signature request.
type SignRequestArgs struct {
	DomainID keymgr.DomainID `json:"domain_id"`
	Payload  Payload         `json:"payload"`
	Path     string          `json:"path"`
}

// SignatureRequest is the immutable intake record: caller arguments plus the
// requester identity captured at the call boundary.
type SignatureRequest struct {
	DomainID  keymgr.DomainID `json:"domain_id"`
	Payload   Payload         `json:"payload"`
	Requester string          `json:"requester"`
	Path      string          `json:"path"`
}

func NewSignatureRequest(args SignRequestArgs, requester string) SignatureRequest {
	return SignatureRequest{DomainID: args.DomainID, Payload: args.Payload, Requester: requester, Path: args.Path}
}

// Fingerprint deduplicates concurrent identical requests.
type Fingerprint [32]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// Fingerprint derives the request's dedup identifier from its four fields,
// length-prefixed so field boundaries cannot collide.
func (r SignatureRequest) Fingerprint() Fingerprint {
	h := blake3.New(32, nil)
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], uint64(r.DomainID))
	_, _ = h.Write(u64[:])
	writeField := func(b []byte) {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(b)))
		_, _ = h.Write(n[:])
		_, _ = h.Write(b)
	}
	writeField([]byte(r.Payload.Curve()))
	if r.Payload.Ecdsa != nil {
		writeField(r.Payload.Ecdsa[:])
	} else {
		writeField(r.Payload.Eddsa)
	}
	writeField([]byte(r.Requester))
	writeField([]byte(r.Path))
	var fp Fingerprint
	h.Sum(fp[:0])
	return fp
}
