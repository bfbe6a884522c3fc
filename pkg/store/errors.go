package store

import "fmt"

// Kind classifies why a store operation failed, so callers (in particular
// the HTTP layer) can map it to the right response without string
// matching.
type Kind int

const (
	// KindUnknown is the zero value; never returned deliberately.
	KindUnknown Kind = iota
	// KindNotFound means no record exists under the key.
	KindNotFound
	// KindExpired means a record existed but its TTL has passed; it is
	// treated identically to not-found by callers but logged separately.
	KindExpired
	// KindSealed means a Seal-policy record has exhausted its read
	// budget and is blocked from further reads, though it still exists.
	KindSealed
	// KindQuotaExceeded means the license gate rejected the write.
	KindQuotaExceeded
	// KindInvalidInput means the caller supplied a malformed request.
	KindInvalidInput
	// KindAlreadyExists means put was called on a key that already has a
	// live record.
	KindAlreadyExists
	// KindInvalidState means patch was called on a record whose policy
	// does not support in-place replacement (only Seal does).
	KindInvalidState
	// KindAuthFailure means a ciphertext failed authentication: a key
	// mismatch or tampering, never silently treated as not-found.
	KindAuthFailure
	// KindCorrupt means a stored value failed to decode.
	KindCorrupt
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	case KindSealed:
		return "sealed"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindInvalidInput:
		return "invalid_input"
	case KindAlreadyExists:
		return "already_exists"
	case KindInvalidState:
		return "invalid_state"
	case KindAuthFailure:
		return "auth_failure"
	case KindCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Error is the error type every store operation returns on failure.
type Error struct {
	Kind  Kind
	Key   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("store: %s: %s: %v", e.Kind, e.Key, e.cause)
	}
	return fmt.Sprintf("store: %s: %s", e.Kind, e.Key)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(kind Kind, key string, cause error) *Error {
	return &Error{Kind: kind, Key: key, cause: cause}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	se, ok := err.(*Error)
	return ok && se.Kind == kind
}
