package intake

import "errors"

// Parameter errors are detected before any state mutation, reported
// synchronously to the caller, and never retried.
var (
	ErrDomainNotFound       = errors.New("domain not found")
	ErrPayloadCurveMismatch = errors.New("payload curve mismatch")
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrInsufficientGas      = errors.New("insufficient gas")
	ErrInsufficientDeposit  = errors.New("insufficient deposit")
)

// FailureReason classifies asynchronous outcome failures delivered through
// the finalize path.
type FailureReason string

const (
	FailureTimeout         FailureReason = "timeout"
	FailureMalformedResult FailureReason = "malformed_result"
)

// Outcome is the result of the off-chain computation: a signature on
// success, a typed reason on failure.
type Outcome struct {
	Signature []byte        `json:"signature,omitempty"`
	Failure   FailureReason `json:"failure,omitempty"`
}

func SuccessOutcome(sig []byte) Outcome { return Outcome{Signature: sig} }

func FailureOutcome(r FailureReason) Outcome { return Outcome{Failure: r} }

// OK reports outcome polarity.
func (o Outcome) OK() bool { return o.Failure == "" }
