package crypto

import (
	"bytes"
	"testing"
)

func testKey() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(testKey())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	plaintext := []byte("correct horse battery staple")
	ciphertext, nonce, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if len(nonce) != NonceSize {
		t.Fatalf("Encrypt() nonce length = %d, want %d", len(nonce), NonceSize)
	}

	got, err := c.Decrypt(ciphertext, nonce)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	c1, _ := New(testKey())
	var otherKey [32]byte
	otherKey[0] = 0xff
	c2, _ := New(otherKey)

	ciphertext, nonce, err := c1.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	_, err = c2.Decrypt(ciphertext, nonce)
	if err != ErrAuthFailure {
		t.Errorf("Decrypt() error = %v, want ErrAuthFailure", err)
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	c, _ := New(testKey())
	ciphertext, nonce, err := c.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0xff

	_, err = c.Decrypt(tampered, nonce)
	if err != ErrAuthFailure {
		t.Errorf("Decrypt() error = %v, want ErrAuthFailure", err)
	}
}

func TestNonceUniqueness(t *testing.T) {
	c, _ := New(testKey())
	seen := make(map[string]bool, 10000)

	for i := 0; i < 10000; i++ {
		_, nonce, err := c.Encrypt([]byte("x"))
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		key := string(nonce)
		if seen[key] {
			t.Fatalf("duplicate nonce observed after %d encryptions", i)
		}
		seen[key] = true
	}
}
