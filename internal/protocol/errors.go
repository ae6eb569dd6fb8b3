package protocol

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors for the failure classes of the protocol operations. The
// typed errors below match these through errors.Is, so callers can branch on
// the class while still reading the detail from the concrete type.
var (
	ErrValueMismatch     = errors.New("attached value does not match required funding")
	ErrIllegalTransition = errors.New("request status does not permit the operation")
	ErrUnauthorized      = errors.New("caller is not authorized for the operation")
	ErrTimingViolation   = errors.New("operation attempted outside its allowed time window")
	ErrProofRejected     = errors.New("fulfillment proof rejected")
)

// ValueError reports a funding mismatch on request creation: the attached
// native value must equal the required amount exactly.
type ValueError struct {
	Expected *big.Int
	Got      *big.Int
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("value mismatch: expected %v, got %v", e.Expected, e.Got)
}

func (e *ValueError) Is(target error) bool { return target == ErrValueMismatch }

// StatusError reports an operation attempted against a request whose current
// status does not permit it. Actual == StatusNone means the identity has
// never been registered.
type StatusError struct {
	ID       common.Hash
	Expected Status
	Actual   Status
}

func (e *StatusError) Error() string {
	if e.Actual == StatusNone {
		return fmt.Sprintf("unknown request %s", e.ID.Hex())
	}
	return fmt.Sprintf("request %s is %s, expected %s", e.ID.Hex(), e.Actual, e.Expected)
}

func (e *StatusError) Is(target error) bool { return target == ErrIllegalTransition }

// CallerError reports a cancellation attempted by an account other than the
// recorded requester.
type CallerError struct {
	Caller    common.Address
	Requester common.Address
}

func (e *CallerError) Error() string {
	return fmt.Sprintf("caller %s is not requester %s", e.Caller.Hex(), e.Requester.Hex())
}

func (e *CallerError) Is(target error) bool { return target == ErrUnauthorized }

// TimingError reports a time gate that was not satisfied: Have is the time
// the operation offered (the current time for cancellation, the proposed
// expiry for creation) and Threshold is the minimum it had to reach.
type TimingError struct {
	Op        string
	Have      time.Time
	Threshold time.Time
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("%s: have %s, need at least %s",
		e.Op, e.Have.UTC().Format(time.RFC3339), e.Threshold.UTC().Format(time.RFC3339))
}

func (e *TimingError) Is(target error) bool { return target == ErrTimingViolation }
