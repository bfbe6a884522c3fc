package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/SirrVault/sirr/pkg/crypto"
	"github.com/SirrVault/sirr/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func ttl(d time.Duration) *time.Duration { return &d }
func maxReads(n int64) *int64            { return &n }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	cipher, err := crypto.New(key)
	require.NoError(t, err)

	s, err := Open(t.TempDir(), cipher)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Put(PutInput{Key: "k1", Plaintext: []byte("hunter2"), Policy: record.Burn, MaxReads: maxReads(5)})
	require.NoError(t, err)

	pt, rec, err := s.Get("k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), pt)
	assert.Equal(t, int64(1), rec.ReadCount)
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Get("missing")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestPutRejectsExistingLiveKey(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(PutInput{Key: "k1", Plaintext: []byte("v1"), Policy: record.Burn})
	require.NoError(t, err)

	_, err = s.Put(PutInput{Key: "k1", Plaintext: []byte("v2"), Policy: record.Burn})
	assert.True(t, IsKind(err, KindAlreadyExists))
}

func TestPutAllowsReplacingExpiredKey(t *testing.T) {
	s := newTestStore(t)
	frozen := time.Now()
	s.now = func() time.Time { return frozen }

	_, err := s.Put(PutInput{Key: "k1", Plaintext: []byte("v1"), Policy: record.Burn, TTL: ttl(time.Minute)})
	require.NoError(t, err)

	s.now = func() time.Time { return frozen.Add(2 * time.Minute) }
	_, err = s.Put(PutInput{Key: "k1", Plaintext: []byte("v2"), Policy: record.Burn})
	assert.NoError(t, err)
}

func TestPatchRejectsBurnPolicy(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(PutInput{Key: "k1", Plaintext: []byte("v1"), Policy: record.Burn, MaxReads: maxReads(5)})
	require.NoError(t, err)

	_, err = s.Patch("k1", []byte("v2"))
	assert.True(t, IsKind(err, KindInvalidState))
}

func TestBurnPolicyDeletesOnExhaustion(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(PutInput{Key: "k1", Plaintext: []byte("v"), Policy: record.Burn, MaxReads: maxReads(2)})
	require.NoError(t, err)

	_, _, err = s.Get("k1")
	require.NoError(t, err)
	_, _, err = s.Get("k1")
	require.NoError(t, err)

	_, _, err = s.Get("k1")
	assert.True(t, IsKind(err, KindNotFound), "record should be gone after exhausting its burn budget")
}

func TestSealPolicyBlocksReadsButPreservesRecord(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(PutInput{Key: "k1", Plaintext: []byte("v"), Policy: record.Seal, MaxReads: maxReads(1)})
	require.NoError(t, err)

	_, _, err = s.Get("k1")
	require.NoError(t, err)

	_, _, err = s.Get("k1")
	assert.True(t, IsKind(err, KindSealed))

	rec, err := s.Head("k1")
	require.NoError(t, err, "sealed record should still be present for head/list")
	assert.True(t, rec.Sealed())
}

func TestExpiryTakesPrecedenceOverReadBudget(t *testing.T) {
	s := newTestStore(t)
	frozen := time.Now()
	s.now = func() time.Time { return frozen }

	_, err := s.Put(PutInput{Key: "k1", Plaintext: []byte("v"), Policy: record.Burn, TTL: ttl(time.Minute)})
	require.NoError(t, err)

	s.now = func() time.Time { return frozen.Add(2 * time.Minute) }
	_, _, err = s.Get("k1")
	assert.True(t, IsKind(err, KindExpired))

	_, _, err = s.Get("k1")
	assert.True(t, IsKind(err, KindNotFound), "expired record is deleted lazily on first access")
}

func TestPatchDoesNotResetReadCount(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(PutInput{Key: "k1", Plaintext: []byte("v1"), Policy: record.Seal, MaxReads: maxReads(1)})
	require.NoError(t, err)

	_, _, err = s.Get("k1")
	require.NoError(t, err)

	rec, err := s.Patch("k1", []byte("v2"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ReadCount, "patch must not reset the read budget that is already spent")
	assert.True(t, rec.Sealed(), "a sealed record stays sealed after a patch")
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(PutInput{Key: "k1", Plaintext: []byte("v"), Policy: record.Burn})
	require.NoError(t, err)

	require.NoError(t, s.Delete("k1"))
	require.NoError(t, s.Delete("k1"), "deleting an already-absent key must not error")
}

func TestListIncludesSealedButExcludesExpired(t *testing.T) {
	s := newTestStore(t)
	frozen := time.Now()
	s.now = func() time.Time { return frozen }

	_, err := s.Put(PutInput{Key: "sealed", Plaintext: []byte("v"), Policy: record.Seal, MaxReads: maxReads(1)})
	require.NoError(t, err)
	_, _, err = s.Get("sealed")
	require.NoError(t, err)

	_, err = s.Put(PutInput{Key: "expiring", Plaintext: []byte("v"), Policy: record.Burn, TTL: ttl(time.Minute)})
	require.NoError(t, err)

	s.now = func() time.Time { return frozen.Add(2 * time.Minute) }

	recs, err := s.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "sealed", recs[0].Key)
	assert.True(t, recs[0].Sealed())
}

func TestPruneRemovesOnlyExpiredRecords(t *testing.T) {
	s := newTestStore(t)
	frozen := time.Now()
	s.now = func() time.Time { return frozen }

	_, err := s.Put(PutInput{Key: "keep", Plaintext: []byte("v"), Policy: record.Burn})
	require.NoError(t, err)
	_, err = s.Put(PutInput{Key: "gone", Plaintext: []byte("v"), Policy: record.Burn, TTL: ttl(time.Minute)})
	require.NoError(t, err)

	s.now = func() time.Time { return frozen.Add(2 * time.Minute) }

	n, err := s.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Head("keep")
	assert.NoError(t, err)
	_, err = s.Head("gone")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestTamperedCiphertextSurfacesAsAuthFailure(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(PutInput{Key: "k1", Plaintext: []byte("v"), Policy: record.Burn})
	require.NoError(t, err)

	rec, err := s.Head("k1")
	require.NoError(t, err)
	rec.Ciphertext[0] ^= 0xff
	encoded, err := encodeRecord(rec)
	require.NoError(t, err)

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecrets).Put([]byte("k1"), encoded)
	})
	require.NoError(t, err)

	_, _, err = s.Get("k1")
	assert.True(t, IsKind(err, KindAuthFailure), "a tampered ciphertext must never be silently treated as missing")
}

func TestTruncatedRecordSurfacesAsCorrupt(t *testing.T) {
	s := newTestStore(t)

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecrets).Put([]byte("k1"), []byte{codecVersion1})
	})
	require.NoError(t, err)

	_, _, err = s.Get("k1")
	assert.True(t, IsKind(err, KindCorrupt))
}

func TestPutRejectsZeroTTL(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(PutInput{Key: "k1", Plaintext: []byte("v"), Policy: record.Burn, TTL: ttl(0)})
	assert.True(t, IsKind(err, KindInvalidInput), "ttl_seconds = 0 must be rejected, not treated as no-expiry")
}

func TestPutRejectsZeroMaxReads(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(PutInput{Key: "k1", Plaintext: []byte("v"), Policy: record.Burn, MaxReads: maxReads(0)})
	assert.True(t, IsKind(err, KindInvalidInput), "max_reads = 0 must be rejected, not treated as unlimited")
}

func TestPutRejectsOversizedKey(t *testing.T) {
	s := newTestStore(t)
	longKey := make([]byte, maxKeyBytes+1)
	for i := range longKey {
		longKey[i] = 'a'
	}
	_, err := s.Put(PutInput{Key: string(longKey), Plaintext: []byte("v"), Policy: record.Burn})
	assert.True(t, IsKind(err, KindInvalidInput))
}

func TestPutRejectsNonPrintableKey(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(PutInput{Key: "k1\nwith-newline", Plaintext: []byte("v"), Policy: record.Burn})
	assert.True(t, IsKind(err, KindInvalidInput))
}

func TestPutQuotaCheckRunsInsideSameTransactionAsInsert(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(PutInput{Key: "k1", Plaintext: []byte("v1"), Policy: record.Burn})
	require.NoError(t, err)

	var observedCount int
	_, err = s.Put(PutInput{
		Key:       "k2",
		Plaintext: []byte("v2"),
		Policy:    record.Burn,
		QuotaCheck: func(count int) error {
			observedCount = count
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, observedCount, "QuotaCheck must observe the count before this Put's own insert lands")

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPutQuotaCheckRejectionLeavesNoRecordWritten(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(PutInput{
		Key:       "k1",
		Plaintext: []byte("v1"),
		Policy:    record.Burn,
		QuotaCheck: func(int) error {
			return fmt.Errorf("quota exceeded")
		},
	})
	assert.True(t, IsKind(err, KindQuotaExceeded))

	_, _, getErr := s.Get("k1")
	assert.True(t, IsKind(getErr, KindNotFound), "a quota-rejected put must not leave a partial record behind")
}

func TestHeadDeletesExpiredRecordInPlace(t *testing.T) {
	s := newTestStore(t)
	frozen := time.Now()
	s.now = func() time.Time { return frozen }

	_, err := s.Put(PutInput{Key: "k1", Plaintext: []byte("v"), Policy: record.Burn, TTL: ttl(time.Minute)})
	require.NoError(t, err)

	s.now = func() time.Time { return frozen.Add(2 * time.Minute) }
	_, err = s.Head("k1")
	assert.True(t, IsKind(err, KindExpired))

	_, err = s.Head("k1")
	assert.True(t, IsKind(err, KindNotFound), "head must evict the expired record on first encounter, not just skip it")
}

func TestListDeletesExpiredRecordsInPlace(t *testing.T) {
	s := newTestStore(t)
	frozen := time.Now()
	s.now = func() time.Time { return frozen }

	_, err := s.Put(PutInput{Key: "expiring", Plaintext: []byte("v"), Policy: record.Burn, TTL: ttl(time.Minute)})
	require.NoError(t, err)

	s.now = func() time.Time { return frozen.Add(2 * time.Minute) }
	_, err = s.List()
	require.NoError(t, err)

	_, err = s.Head("expiring")
	assert.True(t, IsKind(err, KindNotFound), "list must evict expired records it scans over, not leave them for the sweeper")
}
