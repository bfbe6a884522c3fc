package store

import (
	"encoding/binary"
	"fmt"

	"github.com/SirrVault/sirr/pkg/record"
)

// codecVersion1 is the only value format written today. A leading version
// byte lets a future format change be detected and rejected (or migrated)
// without guessing from the remaining bytes.
const codecVersion1 = 1

const (
	policyBurn byte = 0
	policySeal byte = 1
)

// encodeRecord serializes everything about r except its key (which is
// already the bbolt key the value is stored under) into the versioned
// binary layout:
//
//	1 byte   version
//	1 byte   policy
//	8 bytes  created_at (big-endian)
//	8 bytes  expires_at (big-endian)
//	8 bytes  max_reads (big-endian)
//	8 bytes  read_count (big-endian)
//	2 bytes  nonce length (big-endian)
//	N bytes  nonce
//	4 bytes  ciphertext length (big-endian)
//	M bytes  ciphertext
func encodeRecord(r *record.Record) ([]byte, error) {
	var policyByte byte
	switch r.Policy {
	case record.Burn:
		policyByte = policyBurn
	case record.Seal:
		policyByte = policySeal
	default:
		return nil, fmt.Errorf("store: unknown policy %q", r.Policy)
	}

	size := 1 + 1 + 8 + 8 + 8 + 8 + 2 + len(r.Nonce) + 4 + len(r.Ciphertext)
	buf := make([]byte, size)

	buf[0] = codecVersion1
	buf[1] = policyByte
	off := 2
	binary.BigEndian.PutUint64(buf[off:], uint64(r.CreatedAt))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(r.ExpiresAt))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(r.MaxReads))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(r.ReadCount))
	off += 8
	binary.BigEndian.PutUint16(buf[off:], uint16(len(r.Nonce)))
	off += 2
	off += copy(buf[off:], r.Nonce)
	binary.BigEndian.PutUint32(buf[off:], uint32(len(r.Ciphertext)))
	off += 4
	copy(buf[off:], r.Ciphertext)

	return buf, nil
}

// decodeRecord is the inverse of encodeRecord. key is supplied by the
// caller since it is not part of the encoded value. It allocates fresh
// backing arrays for Nonce and Ciphertext rather than slicing buf, so the
// result stays valid after a bbolt read-view backing buf is invalidated by
// a subsequent write in the same transaction.
func decodeRecord(key string, buf []byte) (*record.Record, error) {
	if len(buf) < 2+8+8+8+8+2 {
		return nil, fmt.Errorf("store: record %q is truncated", key)
	}
	if buf[0] != codecVersion1 {
		return nil, fmt.Errorf("store: record %q has unknown codec version %d", key, buf[0])
	}

	var policy record.Policy
	switch buf[1] {
	case policyBurn:
		policy = record.Burn
	case policySeal:
		policy = record.Seal
	default:
		return nil, fmt.Errorf("store: record %q has unknown policy byte %d", key, buf[1])
	}

	off := 2
	createdAt := int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	expiresAt := int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	maxReads := int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	readCount := int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8

	nonceLen := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	if len(buf) < off+nonceLen+4 {
		return nil, fmt.Errorf("store: record %q is truncated", key)
	}
	nonce := make([]byte, nonceLen)
	copy(nonce, buf[off:off+nonceLen])
	off += nonceLen

	ctLen := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	if len(buf) < off+ctLen {
		return nil, fmt.Errorf("store: record %q is truncated", key)
	}
	ciphertext := make([]byte, ctLen)
	copy(ciphertext, buf[off:off+ctLen])

	return &record.Record{
		Key:        key,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		CreatedAt:  createdAt,
		ExpiresAt:  expiresAt,
		MaxReads:   maxReads,
		ReadCount:  readCount,
		Policy:     policy,
	}, nil
}
