package crypto_test

import (
	"bytes"
	"testing"

	"github.com/buaaliyuan/readros/internal/crypto"
)

func testNonce(b byte) []byte {
	nonce := make([]byte, crypto.NonceSize)
	nonce[0] = b
	return nonce
}

func TestEncryptDecrypt(t *testing.T) {
	k := crypto.NewRandomKey()

	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	buf := make([]byte, 0, len(plaintext)+crypto.Extension)
	ciphertext, err := k.Encrypt(buf, plaintext, testNonce(1))
	if err != nil {
		t.Fatal(err)
	}

	if len(ciphertext) != len(plaintext)+crypto.Extension {
		t.Fatalf("unexpected ciphertext length: got %d, want %d", len(ciphertext), len(plaintext)+crypto.Extension)
	}

	out := make([]byte, len(plaintext))
	n, err := k.Decrypt(out, ciphertext)
	if err != nil {
		t.Fatal(err)
	}

	if n != len(plaintext) {
		t.Fatalf("unexpected plaintext length: got %d, want %d", n, len(plaintext))
	}

	if !bytes.Equal(out[:n], plaintext) {
		t.Fatalf("roundtrip mismatch: got %q, want %q", out[:n], plaintext)
	}
}

func TestEncryptRejectsShortNonce(t *testing.T) {
	k := crypto.NewRandomKey()
	buf := make([]byte, 0, crypto.Extension)
	if _, err := k.Encrypt(buf, []byte("x"), testNonce(1)[:crypto.NonceSize-1]); err == nil {
		t.Fatal("expected error for undersized nonce")
	}
}

func TestEncryptSameNonceProducesSameCiphertext(t *testing.T) {
	k := crypto.NewRandomKey()
	plaintext := []byte("deterministic by construction")

	buf1 := make([]byte, 0, len(plaintext)+crypto.Extension)
	c1, err := k.Encrypt(buf1, plaintext, testNonce(5))
	if err != nil {
		t.Fatal(err)
	}
	buf2 := make([]byte, 0, len(plaintext)+crypto.Extension)
	c2, err := k.Encrypt(buf2, plaintext, testNonce(5))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(c1, c2) {
		t.Fatal("same key, nonce and plaintext produced different ciphertext")
	}
}

func TestDecryptTamperedFails(t *testing.T) {
	k := crypto.NewRandomKey()

	plaintext := []byte("some data")
	buf := make([]byte, 0, len(plaintext)+crypto.Extension)
	ciphertext, err := k.Encrypt(buf, plaintext, testNonce(2))
	if err != nil {
		t.Fatal(err)
	}

	ciphertext[0] ^= 0xff

	out := make([]byte, len(plaintext))
	if _, err := k.Decrypt(out, ciphertext); err != crypto.ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}
