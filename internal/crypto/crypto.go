// Package crypto implements the AES-256-CTR + Poly1305-AES128 authenticated
// encryption primitive used by the bag engine's optional AES encryptor
// plugin (internal/bag.AESEncryptor). Unlike a general-purpose repository
// cipher, this package never generates its own nonce: the chunk format
// already hands every ciphertext a number that is unique within its file
// (a chunk's byte offset, a connection's dense id), so the caller supplies
// that number as the nonce instead of spending a crypto/rand read per
// chunk. See internal/bag/aesencryptor.go for how those numbers are
// turned into nonces.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/buaaliyuan/readros/internal/errors"

	"golang.org/x/crypto/poly1305"
)

const (
	aesKeySize  = 32                        // for AES-256
	macKeySizeK = 16                        // for AES-128
	macKeySizeR = 16                        // for Poly1305
	macKeySize  = macKeySizeK + macKeySizeR // for Poly1305-AES128
	ivSize      = aes.BlockSize

	macSize = poly1305.TagSize

	// Extension is the number of bytes a plaintext is enlarged by encrypting it.
	Extension = ivSize + macSize
)

// EncryptionKeySize and MACKeySize give a key-derivation function the
// scrypt output layout this package expects: EncryptionKeySize bytes of
// AES-256 key followed by MACKeySize bytes of Poly1305-AES128 key
// (K||R). internal/bag/aesencryptor.go derives a Key's raw bytes itself
// from these sizes rather than this package exposing its own KDF.
const (
	EncryptionKeySize = aesKeySize
	MACKeySize        = macKeySize

	// NonceSize is the number of bytes Encrypt's nonce argument must be.
	NonceSize = ivSize
)

// ErrUnauthenticated is returned when ciphertext verification has failed.
var ErrUnauthenticated = errors.New("ciphertext verification failed")

// ErrInvalidCiphertext is returned when trying to encrypt into the slice
// that holds the plaintext.
var ErrInvalidCiphertext = errors.New("invalid ciphertext, same slice used for plaintext")

// Key holds the encryption and message authentication keys for one
// encryptor instance.
type Key struct {
	MACKey
	EncryptionKey
}

// EncryptionKey is the key used for encryption.
type EncryptionKey [32]byte

// MACKey is used to sign (authenticate) data.
type MACKey struct {
	K [16]byte // for AES-128
	R [16]byte // for Poly1305

	masked bool // remember if the MAC key has already been masked
}

// mask for key, (cf. http://cr.yp.to/mac/poly1305-20050329.pdf)
var poly1305KeyMask = [16]byte{
	0xff,
	0xff,
	0xff,
	0x0f, // 3: top four bits zero
	0xfc, // 4: bottom two bits zero
	0xff,
	0xff,
	0x0f, // 7: top four bits zero
	0xfc, // 8: bottom two bits zero
	0xff,
	0xff,
	0x0f, // 11: top four bits zero
	0xfc, // 12: bottom two bits zero
	0xff,
	0xff,
	0x0f, // 15: top four bits zero
}

func poly1305MAC(msg []byte, nonce []byte, key *MACKey) []byte {
	k := poly1305PrepareKey(nonce, key)

	var out [16]byte
	poly1305.Sum(&out, msg, &k)

	return out[:]
}

func maskKey(k *MACKey) {
	if k == nil || k.masked {
		return
	}

	for i := 0; i < poly1305.TagSize; i++ {
		k.R[i] = k.R[i] & poly1305KeyMask[i]
	}

	k.masked = true
}

// construct mac key from slice (k||r), with masking
func macKeyFromSlice(mk *MACKey, data []byte) {
	copy(mk.K[:], data[:16])
	copy(mk.R[:], data[16:32])
	maskKey(mk)
}

// prepare key for low-level poly1305.Sum(): r||n
func poly1305PrepareKey(nonce []byte, key *MACKey) [32]byte {
	var k [32]byte

	maskKey(key)

	c, err := aes.NewCipher(key.K[:])
	if err != nil {
		panic(err)
	}
	c.Encrypt(k[16:], nonce[:])

	copy(k[:16], key.R[:])

	return k
}

func poly1305Verify(msg []byte, nonce []byte, key *MACKey, mac []byte) bool {
	k := poly1305PrepareKey(nonce, key)

	var m [16]byte
	copy(m[:], mac)

	return poly1305.Verify(&m, msg, &k)
}

// NewRandomKey returns new encryption and message authentication keys.
func NewRandomKey() *Key {
	k := &Key{}

	n, err := rand.Read(k.EncryptionKey[:])
	if n != aesKeySize || err != nil {
		panic("unable to read enough random bytes for encryption key")
	}

	n, err = rand.Read(k.MACKey.K[:])
	if n != macKeySizeK || err != nil {
		panic("unable to read enough random bytes for MAC encryption key")
	}

	n, err = rand.Read(k.MACKey.R[:])
	if n != macKeySizeR || err != nil {
		panic("unable to read enough random bytes for MAC key")
	}

	maskKey(&k.MACKey)
	return k
}

// Valid tests whether the MAC key is valid (i.e. not zero).
func (m *MACKey) Valid() bool {
	nonzeroK := false
	for i := 0; i < len(m.K); i++ {
		if m.K[i] != 0 {
			nonzeroK = true
		}
	}

	if !nonzeroK {
		return false
	}

	for i := 0; i < len(m.R); i++ {
		if m.R[i] != 0 {
			return true
		}
	}

	return false
}

// Valid tests whether the encryption key is valid (i.e. not zero).
func (k *EncryptionKey) Valid() bool {
	for i := 0; i < len(k); i++ {
		if k[i] != 0 {
			return true
		}
	}

	return false
}

// Encrypt encrypts and authenticates data using nonce as the CTR/Poly1305
// IV. The result is IV || Ciphertext || MAC. ciphertext is extended if
// necessary; ciphertext and plaintext must not point to (exactly) the
// same slice.
//
// Unlike a repository cipher that draws a fresh random IV per blob, this
// Encrypt never calls crypto/rand: nonce uniqueness is the caller's
// contract to uphold (see internal/bag/aesencryptor.go), which in
// exchange spares every chunk its own CSPRNG read.
func (k *Key) Encrypt(ciphertext []byte, plaintext []byte, nonce []byte) ([]byte, error) {
	if !k.Valid() {
		return nil, errors.New("invalid key")
	}
	if len(nonce) != ivSize {
		return nil, errors.Errorf("nonce must be %d bytes, got %d", ivSize, len(nonce))
	}

	ciphertext = ciphertext[:cap(ciphertext)]

	if len(plaintext) > 0 && len(ciphertext) > 0 && &plaintext[0] == &ciphertext[0] {
		return nil, ErrInvalidCiphertext
	}

	if len(ciphertext) < len(plaintext)+Extension {
		ext := len(plaintext) + Extension - len(ciphertext)
		ciphertext = append(ciphertext, make([]byte, ext)...)
	}

	copy(ciphertext, nonce)

	c, err := aes.NewCipher(k.EncryptionKey[:])
	if err != nil {
		panic(fmt.Sprintf("unable to create cipher: %v", err))
	}
	e := cipher.NewCTR(c, ciphertext[:ivSize])
	e.XORKeyStream(ciphertext[ivSize:], plaintext)

	ciphertext = ciphertext[:ivSize+len(plaintext)]

	mac := poly1305MAC(ciphertext[ivSize:], ciphertext[:ivSize], &k.MACKey)
	ciphertext = append(ciphertext, mac...)

	return ciphertext, nil
}

// Decrypt verifies and decrypts ciphertext, which must be IV || Ciphertext ||
// MAC. plaintext and ciphertext may point to (exactly) the same slice.
func (k *Key) Decrypt(plaintext []byte, ciphertextWithMac []byte) (int, error) {
	if !k.Valid() {
		return 0, errors.New("invalid key")
	}

	if len(ciphertextWithMac) < Extension {
		return 0, errors.Errorf("trying to decrypt invalid data: ciphertext too small")
	}

	plaintextLength := len(ciphertextWithMac) - Extension
	if len(plaintext) < plaintextLength {
		return 0, errors.Errorf("plaintext buffer too small, %d < %d", len(plaintext), plaintextLength)
	}

	l := len(ciphertextWithMac) - macSize
	ciphertextWithIV, mac := ciphertextWithMac[:l], ciphertextWithMac[l:]

	iv, ciphertext := ciphertextWithIV[:ivSize], ciphertextWithIV[ivSize:]

	if !poly1305Verify(ciphertext, iv, &k.MACKey, mac) {
		return 0, ErrUnauthenticated
	}

	if len(ciphertext) != plaintextLength {
		panic("plaintext and ciphertext lengths do not match")
	}

	c, err := aes.NewCipher(k.EncryptionKey[:])
	if err != nil {
		panic(fmt.Sprintf("unable to create cipher: %v", err))
	}
	e := cipher.NewCTR(c, iv)
	e.XORKeyStream(plaintext, ciphertext)

	return plaintextLength, nil
}

// Valid tests if the key is valid.
func (k *Key) Valid() bool {
	return k.EncryptionKey.Valid() && k.MACKey.Valid()
}
