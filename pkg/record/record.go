// Package record defines sirr's single persisted entity: an encrypted
// secret with expiry and read-count burn/seal semantics.
package record

import "time"

// Policy determines what happens when a record's read budget is exhausted.
// It is an explicit two-variant enumeration rather than a boolean "delete"
// flag, so callers must handle both cases exhaustively.
type Policy string

const (
	// Burn destroys the record once max_reads is reached.
	Burn Policy = "burn"
	// Seal blocks further reads once max_reads is reached but preserves
	// the record, allowing its value to be replaced via patch.
	Seal Policy = "seal"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	switch p {
	case Burn, Seal:
		return true
	default:
		return false
	}
}

// Record is the in-memory representation of one stored secret. It never
// holds the plaintext value — only the ciphertext and the nonce it was
// sealed under.
type Record struct {
	Key        string
	Ciphertext []byte
	Nonce      []byte
	CreatedAt  int64 // unix seconds
	ExpiresAt  int64 // unix seconds; 0 means no expiry
	MaxReads   int64 // 0 means unlimited
	ReadCount  int64
	Policy     Policy
}

// HasExpiry reports whether the record carries a TTL.
func (r *Record) HasExpiry() bool {
	return r.ExpiresAt > 0
}

// HasReadLimit reports whether the record carries a max-read budget.
func (r *Record) HasReadLimit() bool {
	return r.MaxReads > 0
}

// Expired reports whether the record's TTL has passed as of now.
func (r *Record) Expired(now time.Time) bool {
	return r.HasExpiry() && now.Unix() >= r.ExpiresAt
}

// Exhausted reports whether the record has reached its read budget.
func (r *Record) Exhausted() bool {
	return r.HasReadLimit() && r.ReadCount >= r.MaxReads
}

// Sealed reports whether the record is a Seal-policy record that has been
// exhausted — present, but blocked from further reads.
func (r *Record) Sealed() bool {
	return r.Policy == Seal && r.Exhausted()
}

// WouldExhaustOn reports whether a read count of nextReadCount would reach
// or pass MaxReads.
func (r *Record) WouldExhaustOn(nextReadCount int64) bool {
	return r.HasReadLimit() && nextReadCount >= r.MaxReads
}
