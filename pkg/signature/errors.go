package signature

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrMalformedSignature is the sentinel wrapped by every parse failure.
var ErrMalformedSignature = errors.New("malformed signature")

// MalformedSignatureError reports an invalid operator in signature text.
type MalformedSignatureError struct {
	Construct string // the operator that failed, e.g. "[min-max]"
	Offset    int    // byte offset in the outermost signature text
	Reason    string
}

func (e *MalformedSignatureError) Error() string {
	return fmt.Sprintf("malformed signature: %s at offset %d: %s", e.Construct, e.Offset, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedSignature.
func (e *MalformedSignatureError) Unwrap() error {
	return ErrMalformedSignature
}

func malformed(construct string, offset int, format string, args ...interface{}) error {
	return &MalformedSignatureError{
		Construct: construct,
		Offset:    offset,
		Reason:    fmt.Sprintf(format, args...),
	}
}
