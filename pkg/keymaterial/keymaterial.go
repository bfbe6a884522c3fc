// Package keymaterial loads and generates the 32-byte master key sirr uses
// for authenticated encryption of every stored secret value.
//
// Precedence, following the same single-file-under-DATA_DIR layout with
// owner-only permissions used elsewhere in this repo:
//  1. the file at <dataDir>/master.key, if present
//  2. the MASTER_KEY environment variable (64 hex characters)
//  3. otherwise, 32 random bytes are generated and persisted atomically
package keymaterial

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// KeySize is the length in bytes of the master key.
const KeySize = 32

const fileName = "master.key"

// ErrCorrupt is returned when the key file exists but is not exactly
// KeySize bytes.
var ErrCorrupt = errors.New("keymaterial: master.key is not 32 bytes")

// ErrMismatch is returned when both the file and MASTER_KEY are set and
// disagree with each other.
var ErrMismatch = errors.New("keymaterial: master.key file and MASTER_KEY disagree")

// KeyMaterial is process-wide, immutable state: the master key loaded or
// generated once at startup. Rotation produces a new KeyMaterial value
// rather than mutating this one in place.
type KeyMaterial struct {
	key  [KeySize]byte
	path string
}

// Key returns the 32-byte master key.
func (k *KeyMaterial) Key() [KeySize]byte {
	return k.key
}

// Path returns the path the key was loaded from (or written to).
func (k *KeyMaterial) Path() string {
	return k.path
}

// Load loads the master key using the precedence documented on the package,
// generating and persisting a new one on first boot.
func Load(dataDir, envHexKey string) (*KeyMaterial, error) {
	path := filepath.Join(dataDir, fileName)

	fileKey, fileErr := readKeyFile(path)
	var envKey []byte
	if envHexKey != "" {
		decoded, err := decodeHexKey(envHexKey)
		if err != nil {
			return nil, err
		}
		envKey = decoded
	}

	switch {
	case fileErr == nil && envKey != nil:
		if !equalKeys(fileKey, envKey) {
			return nil, ErrMismatch
		}
		return newKeyMaterial(fileKey, path), nil

	case fileErr == nil:
		return newKeyMaterial(fileKey, path), nil

	case errors.Is(fileErr, os.ErrNotExist) && envKey != nil:
		return newKeyMaterial(envKey, path), nil

	case errors.Is(fileErr, os.ErrNotExist):
		generated := make([]byte, KeySize)
		if _, err := io.ReadFull(rand.Reader, generated); err != nil {
			return nil, fmt.Errorf("keymaterial: generating master key: %w", err)
		}
		if err := writeKeyFileAtomic(path, generated); err != nil {
			return nil, err
		}
		return newKeyMaterial(generated, path), nil

	default:
		return nil, fileErr
	}
}

// Generate creates a brand-new random master key and persists it at
// <dataDir>/master.key, overwriting whatever is there. It is the caller's
// responsibility to re-encrypt every record before discarding the previous
// KeyMaterial; the `rotate` CLI command does not use Generate but
// GenerateKey and Persist, so the file changes only after re-encryption.
func Generate(dataDir string) (*KeyMaterial, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := Persist(dataDir, key); err != nil {
		return nil, err
	}
	return newKeyMaterial(key[:], filepath.Join(dataDir, fileName)), nil
}

// GenerateKey returns 32 fresh random bytes suitable for use as a master
// key, without touching disk. Callers that need to re-encrypt existing
// data under the new key before it becomes the key of record (as `rotate`
// does) generate it this way and call Persist only once that succeeds.
func GenerateKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return key, fmt.Errorf("keymaterial: generating master key: %w", err)
	}
	return key, nil
}

// Persist writes key to <dataDir>/master.key atomically, overwriting
// whatever key was there before.
func Persist(dataDir string, key [KeySize]byte) error {
	return writeKeyFileAtomic(filepath.Join(dataDir, fileName), key[:])
}

func newKeyMaterial(key []byte, path string) *KeyMaterial {
	km := &KeyMaterial{path: path}
	copy(km.key[:], key)
	return km
}

func readKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) != KeySize {
		return nil, ErrCorrupt
	}
	return data, nil
}

func decodeHexKey(hexKey string) ([]byte, error) {
	if len(hexKey) != KeySize*2 {
		return nil, fmt.Errorf("keymaterial: MASTER_KEY must be %d hex characters, got %d", KeySize*2, len(hexKey))
	}
	decoded, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: MASTER_KEY is not valid hex: %w", err)
	}
	return decoded, nil
}

// writeKeyFileAtomic writes key to path via temp-file + rename with
// owner-only permissions, so a crash mid-write never leaves a partial key on
// disk.
func writeKeyFileAtomic(path string, key []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("keymaterial: creating data directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".master.key.tmp-*")
	if err != nil {
		return fmt.Errorf("keymaterial: creating temp key file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("keymaterial: chmod temp key file: %w", err)
	}
	if _, err := tmp.Write(key); err != nil {
		tmp.Close()
		return fmt.Errorf("keymaterial: writing temp key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("keymaterial: closing temp key file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("keymaterial: renaming temp key file into place: %w", err)
	}
	return nil
}

func equalKeys(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
