package bag

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/buaaliyuan/readros/internal/crypto"
	"github.com/buaaliyuan/readros/internal/errors"

	sscrypt "github.com/elithrar/simple-scrypt"
	"golang.org/x/crypto/scrypt"
)

// AESEncryptorName is the plugin name AESEncryptor registers itself
// under.
const AESEncryptorName = "aes-ctr-poly1305"

func init() {
	// Registered with no default passphrase: callers that want AES
	// encryption construct their own instance with NewAESEncryptor and
	// pass it to Bag via Options.Encryptor or Open's encryptor argument
	// rather than going
	// through the name registry, since a passphrase can't travel through
	// a bare plugin name. The registration exists so NewEncryptor(name)
	// at least produces a recognizable error instead of "unknown plugin"
	// when a bag names this encryptor but the caller forgot to supply
	// one directly.
	RegisterEncryptor(AESEncryptorName, func() (Encryptor, error) {
		return nil, errors.Errorf("%s requires a passphrase: construct it with NewAESEncryptor and pass it explicitly", AESEncryptorName)
	})
}

// saltLength is the number of random bytes NewAESEncryptor's key
// derivation salts with. 64 matches restic's scrypt salt sizing; nothing
// about this choice is format-specific, so there is no reason to diverge.
const saltLength = 64

// kdfParams are the scrypt cost parameters a passphrase is stretched
// with. They are recorded in the file header (see AddFieldsToFileHeader)
// so a bag written with a future, more expensive default can still be
// opened: the reader derives its key with whatever parameters the writer
// actually used, not its own compiled-in default.
type kdfParams struct {
	N, R, P int
}

// defaultKDFParams are scrypt's own recommended interactive parameters.
var defaultKDFParams = kdfParams{
	N: sscrypt.DefaultParams.N,
	R: sscrypt.DefaultParams.R,
	P: sscrypt.DefaultParams.P,
}

// newSalt returns fresh random salt bytes for deriveKey.
func newSalt() []byte {
	salt := make([]byte, saltLength)
	n, err := rand.Read(salt)
	if n != saltLength || err != nil {
		panic("unable to read enough random bytes for new salt")
	}
	return salt
}

// deriveKey stretches passphrase with scrypt into a crypto.Key, laying
// the output out as crypto.EncryptionKeySize bytes of AES key followed
// by crypto.MACKeySize bytes of Poly1305-AES128 key (K||R): the same
// scrypt-then-split recipe restic's repository master key uses, just
// applied directly to the Key type's exported fields instead of routed
// through a separate KDF() entry point nothing else in this module calls.
func deriveKey(p kdfParams, salt []byte, passphrase string) (*crypto.Key, error) {
	if len(salt) != saltLength {
		return nil, errors.Errorf("deriveKey called with invalid salt length (got %d, want %d)", len(salt), saltLength)
	}

	params := sscrypt.Params{N: p.N, R: p.R, P: p.P, DKLen: sscrypt.DefaultParams.DKLen, SaltLen: len(salt)}
	if err := params.Check(); err != nil {
		return nil, errors.Wrap(err, "check scrypt parameters")
	}

	keyBytes := crypto.EncryptionKeySize + crypto.MACKeySize
	raw, err := scrypt.Key([]byte(passphrase), salt, p.N, p.R, p.P, keyBytes)
	if err != nil {
		return nil, errors.Wrap(err, "scrypt.Key")
	}
	if len(raw) != keyBytes {
		return nil, errors.Errorf("scrypt expanded %d bytes, want %d", len(raw), keyBytes)
	}

	key := &crypto.Key{}
	copy(key.EncryptionKey[:], raw[:crypto.EncryptionKeySize])
	copy(key.MACKey.K[:], raw[crypto.EncryptionKeySize:crypto.EncryptionKeySize+16])
	copy(key.MACKey.R[:], raw[crypto.EncryptionKeySize+16:])
	return key, nil
}

// nonceKind tags which numbering space a nonce's seq argument was drawn
// from, so a chunk's file offset and a connection's small dense id can
// never collide on the same nonce under the same key.
type nonceKind byte

const (
	nonceKindChunk      nonceKind = 0
	nonceKindConnection nonceKind = 1
)

// aesNonce builds a deterministic, collision-free CTR/Poly1305 nonce
// from a value the bag format already guarantees is unique within its
// own numbering space: a chunk's byte offset never repeats within a
// file, and neither does a connection's id. Tagging the first byte with
// kind keeps those two spaces from colliding with each other.
func aesNonce(kind nonceKind, seq uint64) []byte {
	nonce := make([]byte, crypto.NonceSize)
	nonce[0] = byte(kind)
	binary.BigEndian.PutUint64(nonce[crypto.NonceSize-8:], seq)
	return nonce
}

// newChunkCiphertextBuffer returns a buffer sized to hold size plaintext
// bytes plus the AEAD overhead Encrypt adds, so EncryptChunk never
// reallocates.
func newChunkCiphertextBuffer(size int) []byte {
	return make([]byte, 0, size+crypto.Extension)
}

// plaintextLength returns the plaintext length of a blob ciphertextSize
// bytes long.
func plaintextLength(ciphertextSize int) int {
	return ciphertextSize - crypto.Extension
}

// AESEncryptor implements the Encryptor contract using AES-256-CTR
// encryption authenticated with Poly1305-AES128 (internal/crypto), with
// nonces derived from the bag's own chunk offsets and connection ids
// rather than drawn from crypto/rand.
type AESEncryptor struct {
	passphrase string
	params     kdfParams
	key        *crypto.Key
}

// NewAESEncryptor constructs an AES encryptor plugin that derives its key
// from passphrase via scrypt.
func NewAESEncryptor(passphrase string) *AESEncryptor {
	return &AESEncryptor{passphrase: passphrase, params: defaultKDFParams}
}

func (e *AESEncryptor) InitForWriting() ([]byte, error) {
	salt := newSalt()
	key, err := deriveKey(e.params, salt, e.passphrase)
	if err != nil {
		return nil, newBagException(errors.Wrap(err, "derive key"))
	}
	e.key = key
	return salt, nil
}

func (e *AESEncryptor) InitForReading(salt []byte) error {
	key, err := deriveKey(e.params, salt, e.passphrase)
	if err != nil {
		return newBagException(errors.Wrap(err, "derive key"))
	}
	e.key = key
	return nil
}

// EncryptChunk encrypts an already-compressed chunk body. seq is the
// chunk's own file offset, which the chunk format guarantees is unique
// within the file, so it doubles as the nonce's sequence number.
func (e *AESEncryptor) EncryptChunk(in []byte, seq uint64) ([]byte, error) {
	out, err := e.key.Encrypt(newChunkCiphertextBuffer(len(in)), in, aesNonce(nonceKindChunk, seq))
	if err != nil {
		return nil, newBagException(errors.Wrap(err, "encrypt chunk"))
	}
	return out, nil
}

func (e *AESEncryptor) DecryptChunk(in []byte) ([]byte, error) {
	out := make([]byte, plaintextLength(len(in)))
	n, err := e.key.Decrypt(out, in)
	if err != nil {
		return nil, newBagException(errors.Wrap(err, "decrypt chunk"))
	}
	return out[:n], nil
}

// RewriteConnectionRecord encrypts a standalone trailer connection
// record. seq is the connection's own dense id, tagged with
// nonceKindConnection so it can never collide with a chunk's nonce.
func (e *AESEncryptor) RewriteConnectionRecord(in []byte, seq uint64) ([]byte, error) {
	out, err := e.key.Encrypt(newChunkCiphertextBuffer(len(in)), in, aesNonce(nonceKindConnection, seq))
	if err != nil {
		return nil, newBagException(errors.Wrap(err, "encrypt connection record"))
	}
	return out, nil
}

// AddFieldsToFileHeader persists the scrypt KDF parameters alongside the
// salt InitForWriting returns, so a reader can reconstruct the exact same
// derived key even if defaultKDFParams changes in a future version.
func (e *AESEncryptor) AddFieldsToFileHeader(fields map[string][]byte) {
	var b [12]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(e.params.N))
	binary.LittleEndian.PutUint32(b[4:8], uint32(e.params.R))
	binary.LittleEndian.PutUint32(b[8:12], uint32(e.params.P))
	fields["aes_kdf_params"] = b[:]
}

func (e *AESEncryptor) ReadFieldsFromFileHeader(fields map[string][]byte) error {
	b, ok := fields["aes_kdf_params"]
	if !ok || len(b) != 12 {
		return newBagFormatException(errors.New("missing or malformed aes_kdf_params field"))
	}
	e.params = kdfParams{
		N: int(binary.LittleEndian.Uint32(b[0:4])),
		R: int(binary.LittleEndian.Uint32(b[4:8])),
		P: int(binary.LittleEndian.Uint32(b[8:12])),
	}
	return nil
}
