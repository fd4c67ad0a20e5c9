package bag

import (
	"sync"

	"github.com/buaaliyuan/readros/internal/errors"
)

// Encryptor is the pluggable contract the engine routes chunk bodies and
// standalone connection records through. A collaborator provides an
// implementation and registers it by name; the bag requests one by name
// at open time.
type Encryptor interface {
	// InitForWriting is called once when a bag is opened for writing.
	// Any bytes it returns are persisted verbatim as the file header's
	// "encryptor_init" field and handed back to InitForReading when the
	// bag is later opened for read.
	InitForWriting() ([]byte, error)
	// InitForReading is called once when a bag is opened for read (or
	// append), with whatever bytes InitForWriting produced.
	InitForReading(data []byte) error
	// EncryptChunk encrypts an already-compressed chunk body. seq is a
	// value the caller guarantees is unique among every other EncryptChunk
	// call made against this bag (its chunk's own file offset), so an
	// implementation that needs a nonce can derive one from it instead of
	// drawing one from a random source.
	EncryptChunk(in []byte, seq uint64) ([]byte, error)
	// DecryptChunk reverses EncryptChunk. It takes no seq: any nonce an
	// implementation needs to reverse the encryption travels inside in
	// itself, the same way EncryptChunk's output carries it out.
	DecryptChunk(in []byte) ([]byte, error)
	// RewriteConnectionRecord transforms a standalone connection record
	// written to the trailer (not a connection record embedded in a
	// chunk body, which is never separately encrypted). seq is the
	// connection's own dense id, guaranteed unique within the bag but
	// drawn from a different numbering space than EncryptChunk's seq.
	RewriteConnectionRecord(in []byte, seq uint64) ([]byte, error)
	// AddFieldsToFileHeader lets the encryptor contribute its own
	// plugin-specific fields (e.g. a salt) to the file-header record.
	AddFieldsToFileHeader(fields map[string][]byte)
	// ReadFieldsFromFileHeader lets the encryptor recover state from the
	// fields it wrote on a prior write.
	ReadFieldsFromFileHeader(fields map[string][]byte) error
}

// EncryptorFactory builds a new Encryptor instance.
type EncryptorFactory func() (Encryptor, error)

var (
	encryptorRegistryMu sync.Mutex
	encryptorRegistry   = map[string]EncryptorFactory{}
)

func init() {
	RegisterEncryptor("none", func() (Encryptor, error) { return &NoopEncryptor{}, nil })
}

// RegisterEncryptor makes an encryptor plugin available under name.
func RegisterEncryptor(name string, factory EncryptorFactory) {
	encryptorRegistryMu.Lock()
	defer encryptorRegistryMu.Unlock()
	encryptorRegistry[name] = factory
}

// NewEncryptor looks up a registered encryptor plugin by name and
// constructs an instance of it.
func NewEncryptor(name string) (Encryptor, error) {
	encryptorRegistryMu.Lock()
	factory, ok := encryptorRegistry[name]
	encryptorRegistryMu.Unlock()

	if !ok {
		return nil, newBagException(errors.Errorf("no encryptor plugin registered under name %q", name))
	}
	return factory()
}
