package keymgr

import (
	"errors"
)

// DomainID selects a configured signing key.
type DomainID uint64

// CurveType is the signing-scheme selector associated with a domain's key.
type CurveType string

const (
	CurveSecp256k1 CurveType = "secp256k1"
	CurveEd25519   CurveType = "ed25519"
)

// KeyDescriptor is the public half of a domain's signing key. Derivation and
// rotation happen in the external key-management service; this process only
// registers descriptors it is handed.
type KeyDescriptor struct {
	Curve     CurveType `json:"curve"`
	PublicKey []byte    `json:"public_key"`
}

var (
	ErrDomainUnknown = errors.New("domain unknown")
	ErrBadDescriptor = errors.New("bad key descriptor")
)

// Valid reports whether the descriptor names a supported curve and carries a
// plausibly sized public key.
func (d KeyDescriptor) Valid() bool {
	switch d.Curve {
	case CurveSecp256k1:
		return len(d.PublicKey) == 33 || len(d.PublicKey) == 65
	case CurveEd25519:
		return len(d.PublicKey) == 32
	}
	return false
}
