package host

import (
	"encoding/hex"
	"errors"
)

// Token identifies exactly one live suspension. It is opaque to callers and
// resumable exactly once.
type Token [32]byte

func (t Token) String() string { return hex.EncodeToString(t[:]) }

// ParseToken decodes the hex form produced by Token.String.
func ParseToken(s string) (Token, error) {
	var t Token
	b, err := hex.DecodeString(s)
	if err != nil {
		return t, err
	}
	if len(b) != len(t) {
		return t, errors.New("bad token length")
	}
	copy(t[:], b)
	return t, nil
}
