package bag

import (
	"bytes"
	"io"
	"testing"
)

type fixedLengthMessage struct {
	payload []byte
}

func (m fixedLengthMessage) SerializedLength() int { return len(m.payload) }

func (m fixedLengthMessage) Serialize(w io.Writer) error {
	_, err := w.Write(m.payload)
	return err
}

func TestSerializeMessage(t *testing.T) {
	m := fixedLengthMessage{payload: []byte("serialized bytes")}
	got, err := SerializeMessage(m)
	if err != nil {
		t.Fatalf("SerializeMessage: %v", err)
	}
	if !bytes.Equal(got, m.payload) {
		t.Fatalf("SerializeMessage = %q, want %q", got, m.payload)
	}
}

type failingMessage struct{}

func (failingMessage) SerializedLength() int { return 0 }

func (failingMessage) Serialize(w io.Writer) error {
	return io.ErrClosedPipe
}

func TestSerializeMessagePropagatesError(t *testing.T) {
	if _, err := SerializeMessage(failingMessage{}); err == nil {
		t.Fatal("expected SerializeMessage to propagate the Serialize error")
	}
}
