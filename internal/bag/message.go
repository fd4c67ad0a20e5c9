package bag

import (
	"bytes"
	"io"

	"github.com/buaaliyuan/readros/internal/errors"
)

// Message is the collaborator contract for payload serialization: the
// engine itself only ever stores and retrieves opaque byte slices plus a
// MessageDescriptor, so any type that knows how to write itself out
// implements this without the engine needing to import it.
type Message interface {
	SerializedLength() int
	Serialize(w io.Writer) error
}

// SerializeMessage runs m through its own Serialize method into a
// right-sized buffer, for callers that would rather hand Bag.Write a
// plain []byte than manage their own io.Writer.
func SerializeMessage(m Message) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, m.SerializedLength()))
	if err := m.Serialize(buf); err != nil {
		return nil, errors.Wrap(err, "serialize message")
	}
	return buf.Bytes(), nil
}

// Decodable is the collaborator contract Instantiate uses to turn a
// MessageInstance's raw bytes back into a typed value. When both MD5Sum
// and the originating connection's declared schema md5sum are non-empty,
// they must be equal before UnmarshalBag is allowed to run; if either is
// empty, no check is made.
type Decodable interface {
	MD5Sum() string
	UnmarshalBag(data []byte) error
}
