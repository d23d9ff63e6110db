package classic

import (
	"errors"
	"fmt"
)

// Status word constants for ACR122U-class pseudo-APDU responses
const (
	SWSuccess              = 0x9000 // ISO success
	SWFailed               = 0x6300 // Operation failed (auth rejected, no tag in field)
	SWNotSupported         = 0x6A81 // Function not supported
	SWSecurityNotSatisfied = 0x6982 // Security status not satisfied (need auth)
	SWWrongLength          = 0x6700 // Wrong length
)

// ErrNotPresent reports that no tag is in the reader's field. It is the
// only retryable error in the package; callers retry it with a bounded
// attempt budget and treat everything else as final.
var ErrNotPresent = errors.New("tag not present")

// SWError represents a status word error from the reader.
type SWError struct {
	Cmd byte   // Command INS byte
	SW  uint16 // Status word
}

func (e *SWError) Error() string {
	return fmt.Sprintf("reader command 0x%02X failed with SW=0x%04X (%s)", e.Cmd, e.SW, swDescription(e.SW))
}

// swDescription returns a human-readable description of a status word.
func swDescription(sw uint16) string {
	switch sw {
	case SWSuccess:
		return "success"
	case SWFailed:
		return "operation failed"
	case SWNotSupported:
		return "not supported"
	case SWSecurityNotSatisfied:
		return "security not satisfied"
	case SWWrongLength:
		return "wrong length"
	default:
		return "unknown error"
	}
}

// AuthError represents a key rejection on a specific block.
type AuthError struct {
	Block   int   // Block the authentication targeted
	KeyType byte  // KeyTypeA or KeyTypeB
	Cause   error // Underlying error (usually an SWError)
}

func (e *AuthError) Error() string {
	if e == nil {
		return "auth error"
	}
	return fmt.Sprintf("auth block %d key %c failed: %v", e.Block, keyTypeLetter(e.KeyType), e.Cause)
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ProtocolError represents a transport or link fault: the operation
// reached the reader but the exchange itself broke. Not retryable.
type ProtocolError struct {
	Op    string // Operation in progress ("read block 4", "load key", ...)
	Cause error
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return "protocol error"
	}
	return fmt.Sprintf("%s: protocol error: %v", e.Op, e.Cause)
}

func (e *ProtocolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsNotPresent checks if an error means the tag left the field.
func IsNotPresent(err error) bool {
	return errors.Is(err, ErrNotPresent)
}

// IsAuthFailure checks if an error is a key rejection (try the next
// candidate) rather than a transport fault (stop).
func IsAuthFailure(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}
	var swErr *SWError
	if errors.As(err, &swErr) {
		return swErr.SW == SWFailed || swErr.SW == SWSecurityNotSatisfied
	}
	return false
}

// IsProtocolError checks if an error is a link/transport fault.
func IsProtocolError(err error) bool {
	var pErr *ProtocolError
	return errors.As(err, &pErr)
}

// SwOK checks if a status word indicates success.
func SwOK(sw uint16) bool {
	return sw == SWSuccess
}

func keyTypeLetter(kt byte) byte {
	if kt == KeyTypeB {
		return 'B'
	}
	return 'A'
}
