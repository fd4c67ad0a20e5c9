package bag

// NoopEncryptor is the default, pass-through encryptor: chunk bodies and
// connection records are written exactly as compression produced them.
// It is registered under the name "none" and is what a Bag uses when
// it is created without an Encryptor or opens a file whose header names
// no encryptor.
type NoopEncryptor struct{}

func (*NoopEncryptor) InitForWriting() ([]byte, error) { return nil, nil }
func (*NoopEncryptor) InitForReading([]byte) error     { return nil }

func (*NoopEncryptor) EncryptChunk(in []byte, seq uint64) ([]byte, error) { return in, nil }
func (*NoopEncryptor) DecryptChunk(in []byte) ([]byte, error)             { return in, nil }

func (*NoopEncryptor) RewriteConnectionRecord(in []byte, seq uint64) ([]byte, error) { return in, nil }

func (*NoopEncryptor) AddFieldsToFileHeader(map[string][]byte)       {}
func (*NoopEncryptor) ReadFieldsFromFileHeader(map[string][]byte) error { return nil }
