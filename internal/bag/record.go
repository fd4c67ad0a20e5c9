package bag

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"strings"

	"github.com/buaaliyuan/readros/internal/errors"
)

// Record op codes.
const (
	opFileHeader  byte = 0x03
	opIndexData   byte = 0x05
	opChunk       byte = 0x04
	opConnection  byte = 0x07
	opMessageData byte = 0x02
	opChunkInfo   byte = 0x06
)

// fileHeaderReservedSize is the fixed, padded size of the file-header
// record.
const fileHeaderReservedSize = 4096

// headerBuilder assembles a record header: a length-prefixed sequence of
// "key=value" KV entries. Fields are emitted in the order they are added;
// callers add fields in a fixed order so two runs of this program produce
// byte-identical records.
type headerBuilder struct {
	buf bytes.Buffer
}

func newHeaderBuilder() *headerBuilder {
	return &headerBuilder{}
}

func (h *headerBuilder) putField(key string, value []byte) *headerBuilder {
	entry := make([]byte, 0, len(key)+1+len(value))
	entry = append(entry, key...)
	entry = append(entry, '=')
	entry = append(entry, value...)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(entry)))
	h.buf.Write(lenBuf[:])
	h.buf.Write(entry)
	return h
}

func (h *headerBuilder) putByte(key string, v byte) *headerBuilder {
	return h.putField(key, []byte{v})
}

func (h *headerBuilder) putUint32(key string, v uint32) *headerBuilder {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return h.putField(key, b[:])
}

func (h *headerBuilder) putUint64(key string, v uint64) *headerBuilder {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return h.putField(key, b[:])
}

func (h *headerBuilder) putTime(key string, t Time) *headerBuilder {
	var b [8]byte
	binary.LittleEndian.PutUint32(b[0:4], t.Sec)
	binary.LittleEndian.PutUint32(b[4:8], t.Nsec)
	return h.putField(key, b[:])
}

func (h *headerBuilder) putString(key string, v string) *headerBuilder {
	return h.putField(key, []byte(v))
}

func (h *headerBuilder) bytes() []byte {
	return h.buf.Bytes()
}

// header is a parsed record header: key -> raw value bytes.
type header map[string][]byte

func parseHeader(raw []byte) (header, error) {
	h := make(header)
	for len(raw) > 0 {
		if len(raw) < 4 {
			return nil, errors.New("truncated header entry length")
		}
		entryLen := binary.LittleEndian.Uint32(raw[:4])
		raw = raw[4:]
		if uint64(entryLen) > uint64(len(raw)) {
			return nil, errors.New("truncated header entry")
		}
		entry := raw[:entryLen]
		raw = raw[entryLen:]

		idx := bytes.IndexByte(entry, '=')
		if idx < 0 {
			return nil, errors.New("malformed header entry: missing '='")
		}
		key := string(entry[:idx])
		val := make([]byte, len(entry)-idx-1)
		copy(val, entry[idx+1:])
		h[key] = val
	}
	return h, nil
}

// parseRecordHeaderFromBytes parses the [u32 header_len][header] prefix
// of a record out of an in-memory buffer (a decompressed chunk body,
// which readChunkedMessagePayload slices at an index entry's offset)
// and returns the
// number of bytes consumed so the caller can find the data_len field
// that follows.
func parseRecordHeaderFromBytes(raw []byte) (header, int, error) {
	if len(raw) < 4 {
		return nil, 0, errors.New("truncated header length")
	}
	hlen := binary.LittleEndian.Uint32(raw[:4])
	if uint64(4+hlen) > uint64(len(raw)) {
		return nil, 0, errors.New("truncated header")
	}
	h, err := parseHeader(raw[4 : 4+hlen])
	if err != nil {
		return nil, 0, err
	}
	return h, int(4 + hlen), nil
}

func (h header) op() (byte, error) {
	v, err := h.byteField("op")
	return v, err
}

func (h header) byteField(key string) (byte, error) {
	v, ok := h[key]
	if !ok {
		return 0, errors.Errorf("header field %q missing", key)
	}
	if len(v) != 1 {
		return 0, errors.Errorf("header field %q has wrong length %d", key, len(v))
	}
	return v[0], nil
}

func (h header) uint32Field(key string) (uint32, error) {
	v, ok := h[key]
	if !ok {
		return 0, errors.Errorf("header field %q missing", key)
	}
	if len(v) != 4 {
		return 0, errors.Errorf("header field %q has wrong length %d", key, len(v))
	}
	return binary.LittleEndian.Uint32(v), nil
}

func (h header) uint64Field(key string) (uint64, error) {
	v, ok := h[key]
	if !ok {
		return 0, errors.Errorf("header field %q missing", key)
	}
	if len(v) != 8 {
		return 0, errors.Errorf("header field %q has wrong length %d", key, len(v))
	}
	return binary.LittleEndian.Uint64(v), nil
}

func (h header) timeField(key string) (Time, error) {
	v, ok := h[key]
	if !ok {
		return Time{}, errors.Errorf("header field %q missing", key)
	}
	if len(v) != 8 {
		return Time{}, errors.Errorf("header field %q has wrong length %d", key, len(v))
	}
	return Time{
		Sec:  binary.LittleEndian.Uint32(v[0:4]),
		Nsec: binary.LittleEndian.Uint32(v[4:8]),
	}, nil
}

func (h header) stringField(key string) (string, error) {
	v, ok := h[key]
	if !ok {
		return "", errors.Errorf("header field %q missing", key)
	}
	return string(v), nil
}

// writeRecord writes [u32 header_len][header][u32 data_len][data] to w and
// returns the total number of bytes written.
func writeRecord(w io.Writer, hdr []byte, data []byte) (int64, error) {
	var total int64

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(hdr)))
	n, err := w.Write(lenBuf[:])
	total += int64(n)
	if err != nil {
		return total, errors.Wrap(err, "write header length")
	}

	n, err = w.Write(hdr)
	total += int64(n)
	if err != nil {
		return total, errors.Wrap(err, "write header")
	}

	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	n, err = w.Write(lenBuf[:])
	total += int64(n)
	if err != nil {
		return total, errors.Wrap(err, "write data length")
	}

	n, err = w.Write(data)
	total += int64(n)
	if err != nil {
		return total, errors.Wrap(err, "write data")
	}

	return total, nil
}

// readUint32 reads one little-endian uint32 from r.
func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// readRecordHeader reads and parses the header portion of a record:
// [u32 header_len][header bytes]. It returns io.EOF unmodified when there
// is no record left to read (a clean end of the record stream), and a
// *BagFormatException-wrapped error for any other short read.
func readRecordHeader(r io.Reader) (header, error) {
	hlen, err := readUint32(r)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, newBagFormatException(errors.Wrap(err, "read header length"))
		}
		return nil, newBagIOException(errors.Wrap(err, "read header length"))
	}

	buf := make([]byte, hlen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, newBagFormatException(errors.Wrap(err, "read header"))
	}

	h, err := parseHeader(buf)
	if err != nil {
		return nil, newBagFormatException(err)
	}
	return h, nil
}

// readRecordDataLen reads the [u32 data_len] field that follows a header.
func readRecordDataLen(r io.Reader) (uint32, error) {
	dlen, err := readUint32(r)
	if err != nil {
		return 0, newBagFormatException(errors.Wrap(err, "read data length"))
	}
	return dlen, nil
}

// readRecordData reads exactly dlen bytes of record data.
func readRecordData(r io.Reader, dlen uint32) ([]byte, error) {
	buf := make([]byte, dlen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, newBagFormatException(errors.Wrap(err, "read data"))
	}
	return buf, nil
}

// encodeConnectionHeader canonically encodes a connection's full KV header
// as a length-prefixed entry list, sorted by key so the on-disk encoding
// is deterministic.
func encodeConnectionHeader(fields map[string]string) []byte {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	hb := newHeaderBuilder()
	for _, k := range keys {
		hb.putString(k, fields[k])
	}
	return hb.bytes()
}

func decodeConnectionHeader(raw []byte) (map[string]string, error) {
	h, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = string(v)
	}
	return out, nil
}

// canonicalHeaderKey renders a connection header map (with topic already
// injected) as a deterministic string suitable for use as a Go map key,
// realizing exact byte-equality of the full KV map as a connection
// identity rule without depending on map iteration order.
func canonicalHeaderKey(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(fields[k])
		sb.WriteByte('\x00')
	}
	return sb.String()
}
