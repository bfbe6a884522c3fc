// Package store is the BoltDB-backed persistence layer for sirr's secrets.
// Every value is encrypted at rest with the caller-supplied cipher; the
// store never sees plaintext outside of a single Put, Get, Patch or Rekey
// call's stack.
package store

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/SirrVault/sirr/pkg/crypto"
	"github.com/SirrVault/sirr/pkg/log"
	"github.com/SirrVault/sirr/pkg/metrics"
	"github.com/SirrVault/sirr/pkg/record"
	bolt "go.etcd.io/bbolt"
)

var bucketSecrets = []byte("secrets")

// Store is a single-file BoltDB database holding every secret record.
type Store struct {
	db     *bolt.DB
	cipher *crypto.Cipher
	now    func() time.Time
}

// Open opens (creating if necessary) the BoltDB file at <dataDir>/store.db
// and ensures the secrets bucket exists.
func Open(dataDir string, cipher *crypto.Cipher) (*Store, error) {
	dbPath := filepath.Join(dataDir, "store.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSecrets)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating bucket: %w", err)
	}

	return &Store{db: db, cipher: cipher, now: time.Now}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// maxKeyBytes is spec.md §3's upper bound on a secret key's length.
const maxKeyBytes = 255

// isPrintableKey reports whether every byte of key is printable ASCII
// (0x20-0x7e). Keys are echoed back into URL paths (GET /secrets/{key}) and
// log lines, so control bytes and non-ASCII garbage are rejected rather than
// silently accepted.
func isPrintableKey(key string) bool {
	for i := 0; i < len(key); i++ {
		if c := key[i]; c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// PutInput describes a new secret to store.
type PutInput struct {
	Key       string
	Plaintext []byte
	// TTL is nil for "no expiry". A non-nil TTL of zero or less is
	// rejected with KindInvalidInput rather than silently treated as
	// "no expiry" — callers that want no expiry must leave this nil.
	TTL *time.Duration
	// MaxReads is nil for "unlimited reads". A non-nil MaxReads of zero
	// or less is rejected with KindInvalidInput rather than silently
	// treated as "unlimited" — callers that want unlimited reads must
	// leave this nil.
	MaxReads *int64
	Policy   record.Policy
	// QuotaCheck, when non-nil, is invoked with the bucket's current key
	// count from inside the same write transaction that performs the
	// insert, so a concurrent Put cannot observe a stale count: bbolt
	// serializes writers, so only one Put's QuotaCheck and insert can be
	// in flight against a given count at a time. A non-nil return aborts
	// the transaction with KindQuotaExceeded.
	QuotaCheck func(currentCount int) error
}

// Put encrypts plaintext and writes a new record. Put never overwrites a
// live record: an existing, non-expired record under the same key fails
// with KindAlreadyExists (callers that want replace-in-place use Patch on
// a Seal record, or Delete then Put).
func (s *Store) Put(in PutInput) (*record.Record, error) {
	if in.Key == "" {
		return nil, newError(KindInvalidInput, in.Key, fmt.Errorf("key must not be empty"))
	}
	if len(in.Key) > maxKeyBytes {
		return nil, newError(KindInvalidInput, in.Key, fmt.Errorf("key must not exceed %d bytes", maxKeyBytes))
	}
	if !isPrintableKey(in.Key) {
		return nil, newError(KindInvalidInput, in.Key, fmt.Errorf("key must be a printable identifier"))
	}
	if !in.Policy.Valid() {
		return nil, newError(KindInvalidInput, in.Key, fmt.Errorf("policy must be %q or %q", record.Burn, record.Seal))
	}
	if in.TTL != nil && *in.TTL <= 0 {
		return nil, newError(KindInvalidInput, in.Key, fmt.Errorf("ttl_seconds must not be zero or negative"))
	}
	if in.MaxReads != nil && *in.MaxReads <= 0 {
		return nil, newError(KindInvalidInput, in.Key, fmt.Errorf("max_reads must not be zero or negative"))
	}

	ciphertext, nonce, err := s.cipher.Encrypt(in.Plaintext)
	if err != nil {
		return nil, newError(KindCorrupt, in.Key, err)
	}

	now := s.now()
	rec := &record.Record{
		Key:        in.Key,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		CreatedAt:  now.Unix(),
		ReadCount:  0,
		Policy:     in.Policy,
	}
	if in.MaxReads != nil {
		rec.MaxReads = *in.MaxReads
	}
	if in.TTL != nil {
		rec.ExpiresAt = now.Add(*in.TTL).Unix()
	}

	encoded, err := encodeRecord(rec)
	if err != nil {
		return nil, newError(KindInvalidInput, in.Key, err)
	}

	quotaRejected := false
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)

		existing := b.Get([]byte(in.Key))
		if existing != nil {
			prior, err := decodeRecord(in.Key, existing)
			if err != nil {
				return newError(KindCorrupt, in.Key, err)
			}
			if !prior.Expired(now) {
				return newError(KindAlreadyExists, in.Key, nil)
			}
		}

		if in.QuotaCheck != nil {
			if err := in.QuotaCheck(b.Stats().KeyN); err != nil {
				quotaRejected = true
				return newError(KindQuotaExceeded, in.Key, err)
			}
		}

		return b.Put([]byte(in.Key), encoded)
	})
	if err != nil {
		if quotaRejected {
			metrics.QuotaRejectionsTotal.Inc()
		}
		if _, ok := err.(*Error); ok {
			return nil, err
		}
		return nil, newError(KindCorrupt, in.Key, err)
	}

	metrics.SecretsCreatedTotal.Inc()
	metrics.SecretsActive.Inc()
	log.WithKey(in.Key).Debug().Str("policy", string(rec.Policy)).Msg("secret created")

	return rec, nil
}

// Get decrypts and returns the plaintext value for key, advancing the
// read counter. A Burn-policy record that reaches its read budget on this
// call is deleted before the transaction commits; a Seal-policy record
// that reaches its budget is kept but its state is updated so the next
// call is rejected with KindSealed.
func (s *Store) Get(key string) ([]byte, *record.Record, error) {
	var plaintext []byte
	var result *record.Record
	var burned, expired, sealed bool

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		raw := b.Get([]byte(key))
		if raw == nil {
			return newError(KindNotFound, key, nil)
		}

		// raw is a bbolt read-view valid only until the next write to this
		// transaction; decodeRecord copies every field out of it before we
		// call b.Put or b.Delete below.
		rec, err := decodeRecord(key, raw)
		if err != nil {
			return newError(KindCorrupt, key, err)
		}

		now := s.now()
		if rec.Expired(now) {
			if err := b.Delete([]byte(key)); err != nil {
				return newError(KindCorrupt, key, err)
			}
			expired = true
			return newError(KindExpired, key, nil)
		}
		if rec.Sealed() {
			return newError(KindSealed, key, nil)
		}

		pt, err := s.cipher.Decrypt(rec.Ciphertext, rec.Nonce)
		if err != nil {
			return newError(KindAuthFailure, key, err)
		}

		rec.ReadCount++
		if rec.Policy == record.Burn && rec.Exhausted() {
			if err := b.Delete([]byte(key)); err != nil {
				return newError(KindCorrupt, key, err)
			}
			burned = true
		} else {
			if rec.Policy == record.Seal && rec.Exhausted() {
				sealed = true
			}
			encoded, err := encodeRecord(rec)
			if err != nil {
				return newError(KindCorrupt, key, err)
			}
			if err := b.Put([]byte(key), encoded); err != nil {
				return newError(KindCorrupt, key, err)
			}
		}

		plaintext = pt
		result = rec
		return nil
	})
	if err != nil {
		if expired {
			metrics.SecretsExpiredTotal.Inc()
			metrics.SecretsActive.Dec()
			log.WithKey(key).Debug().Msg("secret expired on read")
		}
		return nil, nil, err
	}

	if burned {
		metrics.SecretsBurnedTotal.Inc()
		metrics.SecretsActive.Dec()
		log.WithKey(key).Debug().Msg("secret burned on read exhaustion")
	}
	if sealed {
		metrics.SecretsSealedTotal.Inc()
		log.WithKey(key).Debug().Msg("secret sealed on read exhaustion")
	}

	return plaintext, result, nil
}

// Head returns a record's metadata without decrypting its value or
// advancing its read counter. Like Get, an expired record is deleted
// within the same transaction that discovers it rather than left for the
// Sweeper.
func (s *Store) Head(key string) (*record.Record, error) {
	var result *record.Record
	var expired bool

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		raw := b.Get([]byte(key))
		if raw == nil {
			return newError(KindNotFound, key, nil)
		}
		rec, err := decodeRecord(key, raw)
		if err != nil {
			return newError(KindCorrupt, key, err)
		}
		if rec.Expired(s.now()) {
			if err := b.Delete([]byte(key)); err != nil {
				return newError(KindCorrupt, key, err)
			}
			expired = true
			return newError(KindExpired, key, nil)
		}
		result = rec
		return nil
	})
	if err != nil {
		if expired {
			metrics.SecretsExpiredTotal.Inc()
			metrics.SecretsActive.Dec()
			log.WithKey(key).Debug().Msg("secret expired on head")
		}
		return nil, err
	}
	return result, nil
}

// Patch replaces a record's plaintext value in place, preserving its
// created_at, expiry, max_reads, policy, and read_count. Only Seal-policy
// records support patch — a Burn record has nothing left to protect once
// it has a replacement value, so replacing in place would be surprising;
// callers wanting that should delete and re-put. Patch never resets
// read_count — in particular, patching a Sealed record keeps it exhausted
// (and thus still Sealed) afterward, consistent with its existing read
// budget having already been spent.
func (s *Store) Patch(key string, plaintext []byte) (*record.Record, error) {
	ciphertext, nonce, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, newError(KindCorrupt, key, err)
	}

	var result *record.Record
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		raw := b.Get([]byte(key))
		if raw == nil {
			return newError(KindNotFound, key, nil)
		}
		rec, err := decodeRecord(key, raw)
		if err != nil {
			return newError(KindCorrupt, key, err)
		}
		if rec.Expired(s.now()) {
			if err := b.Delete([]byte(key)); err != nil {
				return newError(KindCorrupt, key, err)
			}
			return newError(KindExpired, key, nil)
		}
		if rec.Policy != record.Seal {
			return newError(KindInvalidState, key, fmt.Errorf("patch requires a seal-policy record"))
		}

		rec.Ciphertext = ciphertext
		rec.Nonce = nonce

		encoded, err := encodeRecord(rec)
		if err != nil {
			return newError(KindCorrupt, key, err)
		}
		if err := b.Put([]byte(key), encoded); err != nil {
			return newError(KindCorrupt, key, err)
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes a record. Deleting a key that does not exist is not an
// error — callers asking for a key to be gone get what they wanted.
func (s *Store) Delete(key string) error {
	existed := false
	now := s.now()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		if raw := b.Get([]byte(key)); raw != nil {
			if rec, err := decodeRecord(key, raw); err == nil && !rec.Expired(now) {
				existed = true
			}
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return err
	}

	if existed {
		metrics.SecretsActive.Dec()
		log.WithKey(key).Debug().Msg("secret deleted")
	}
	return nil
}

// List returns metadata for every non-expired record, including Sealed
// ones (callers are expected to surface their sealed state, not hide
// them). Expired records encountered during the scan are deleted within
// the same write transaction, the same collect-then-delete pattern Prune
// uses, rather than left for the Sweeper to find later.
func (s *Store) List() ([]*record.Record, error) {
	var out []*record.Record
	now := s.now()
	evicted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		var expiredKeys [][]byte

		err := b.ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(string(k), v)
			if err != nil {
				return err
			}
			if rec.Expired(now) {
				expiredKeys = append(expiredKeys, append([]byte(nil), k...))
				return nil
			}
			out = append(out, rec)
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expiredKeys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		evicted = len(expiredKeys)
		return nil
	})
	if err != nil {
		return nil, newError(KindCorrupt, "", err)
	}

	if evicted > 0 {
		metrics.SecretsExpiredTotal.Add(float64(evicted))
		metrics.SecretsActive.Sub(float64(evicted))
		log.WithComponent("store").Debug().Int("removed", evicted).Msg("evicted expired secrets during list")
	}

	return out, nil
}

// Prune deletes every record whose TTL has passed and reports how many
// were removed. It runs as a single write transaction rather than one
// transaction per expired key, so a large sweep never holds the database
// lock across N separate round-trips.
func (s *Store) Prune() (int, error) {
	now := s.now()
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		var expiredKeys [][]byte

		err := b.ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(string(k), v)
			if err != nil {
				return err
			}
			if rec.Expired(now) {
				expiredKeys = append(expiredKeys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expiredKeys {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, newError(KindCorrupt, "", err)
	}

	if removed > 0 {
		metrics.SecretsExpiredTotal.Add(float64(removed))
		metrics.SecretsActive.Sub(float64(removed))
		log.WithComponent("store").Debug().Int("removed", removed).Msg("pruned expired secrets")
	}

	return removed, nil
}

// Rekey decrypts every stored record with the store's current cipher and
// re-encrypts it under newCipher, in a single write transaction. It never
// touches created_at, expires_at, max_reads, read_count, or policy — only
// the ciphertext and nonce change. The store adopts newCipher as its
// active cipher once every record has been rewritten successfully; on any
// error the store keeps using the cipher it started with and no record is
// left re-encrypted under only one of the two keys.
func (s *Store) Rekey(newCipher *crypto.Cipher) (int, error) {
	rewritten := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		var keys [][]byte
		var records []*record.Record

		err := b.ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(string(k), v)
			if err != nil {
				return newError(KindCorrupt, string(k), err)
			}
			keys = append(keys, append([]byte(nil), k...))
			records = append(records, rec)
			return nil
		})
		if err != nil {
			return err
		}

		for i, rec := range records {
			plaintext, err := s.cipher.Decrypt(rec.Ciphertext, rec.Nonce)
			if err != nil {
				return newError(KindAuthFailure, rec.Key, err)
			}
			ciphertext, nonce, err := newCipher.Encrypt(plaintext)
			if err != nil {
				return newError(KindCorrupt, rec.Key, err)
			}
			rec.Ciphertext = ciphertext
			rec.Nonce = nonce

			encoded, err := encodeRecord(rec)
			if err != nil {
				return newError(KindCorrupt, rec.Key, err)
			}
			if err := b.Put(keys[i], encoded); err != nil {
				return newError(KindCorrupt, rec.Key, err)
			}
			rewritten++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.cipher = newCipher
	return rewritten, nil
}

// Count returns the number of records currently stored, expired or not.
// Put's own QuotaCheck reads the same bucket stat from inside its write
// transaction for admission control; Count is the read-only, point-in-time
// equivalent for callers that just want a snapshot (operational tooling,
// tests) without taking a write lock.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketSecrets).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, newError(KindCorrupt, "", err)
	}
	return n, nil
}
