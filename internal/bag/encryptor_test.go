package bag

import (
	"bytes"
	"testing"
)

func TestNoopEncryptorIsPassThrough(t *testing.T) {
	e := &NoopEncryptor{}

	in := []byte("chunk body")
	out, err := e.EncryptChunk(in, 42)
	if err != nil || !bytes.Equal(out, in) {
		t.Fatalf("EncryptChunk = %q, %v, want %q, nil", out, err, in)
	}
	back, err := e.DecryptChunk(out)
	if err != nil || !bytes.Equal(back, in) {
		t.Fatalf("DecryptChunk = %q, %v, want %q, nil", back, err, in)
	}

	rewritten, err := e.RewriteConnectionRecord(in, 7)
	if err != nil || !bytes.Equal(rewritten, in) {
		t.Fatalf("RewriteConnectionRecord = %q, %v, want %q, nil", rewritten, err, in)
	}

	fields := map[string][]byte{}
	e.AddFieldsToFileHeader(fields)
	if len(fields) != 0 {
		t.Fatalf("NoopEncryptor.AddFieldsToFileHeader added fields: %v", fields)
	}
	if err := e.ReadFieldsFromFileHeader(fields); err != nil {
		t.Fatalf("ReadFieldsFromFileHeader: %v", err)
	}
}

func TestNewEncryptorUnknownName(t *testing.T) {
	if _, err := NewEncryptor("does-not-exist"); err == nil {
		t.Fatal("expected error for unregistered encryptor name")
	}
}

func TestNewEncryptorNoneRegistered(t *testing.T) {
	enc, err := NewEncryptor("none")
	if err != nil {
		t.Fatalf("NewEncryptor(none): %v", err)
	}
	if _, ok := enc.(*NoopEncryptor); !ok {
		t.Fatalf("NewEncryptor(none) = %T, want *NoopEncryptor", enc)
	}
}

func TestRegisterEncryptorOverride(t *testing.T) {
	const name = "test-plugin-encryptor-test"
	RegisterEncryptor(name, func() (Encryptor, error) { return &NoopEncryptor{}, nil })

	enc, err := NewEncryptor(name)
	if err != nil {
		t.Fatalf("NewEncryptor(%q): %v", name, err)
	}
	if _, ok := enc.(*NoopEncryptor); !ok {
		t.Fatalf("NewEncryptor(%q) = %T, want *NoopEncryptor", name, enc)
	}
}
