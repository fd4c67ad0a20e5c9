package bag

import (
	"encoding/binary"
	"io"

	"github.com/buaaliyuan/readros/internal/debug"
	"github.com/buaaliyuan/readros/internal/errors"

	lru "github.com/hashicorp/golang-lru/v2"
)

// decompressedChunk is what the cache stores: one chunk's fully
// decompressed, decrypted body.
type decompressedChunk struct {
	data []byte
}

// decompressCache holds exactly one decompressed chunk body at a time,
// keyed by the chunk's file offset. Sequential reads (the common View
// access pattern, since IndexEntry iteration is time-ordered and nearby
// messages usually share a chunk) hit it repeatedly; random access simply
// evicts and reloads.
type decompressCache struct {
	c *lru.Cache[uint64, *decompressedChunk]
}

func newDecompressCache() *decompressCache {
	c, err := lru.New[uint64, *decompressedChunk](1)
	if err != nil {
		panic(err) // capacity 1 is always a valid size
	}
	return &decompressCache{c: c}
}

func (c *decompressCache) get(pos uint64) (*decompressedChunk, bool) {
	return c.c.Get(pos)
}

func (c *decompressCache) put(pos uint64, chunk *decompressedChunk) {
	c.c.Add(pos, chunk)
}

// readChunkBody returns ci's decompressed, decrypted body, serving it
// from the cache when possible and populating the cache otherwise.
func (b *Bag) readChunkBody(ci *ChunkInfo) (*decompressedChunk, error) {
	if chunk, ok := b.cache.get(ci.Pos); ok {
		return chunk, nil
	}

	if _, err := b.cf.Seek(int64(ci.Pos), io.SeekStart); err != nil {
		return nil, err
	}

	hdr, err := readRecordHeader(b.cf)
	if err != nil {
		return nil, newBagFormatException(errors.Wrap(err, "read chunk record"))
	}
	op, err := hdr.op()
	if err != nil {
		return nil, newBagFormatException(err)
	}
	if op != opChunk {
		return nil, newBagFormatException(errors.Errorf("expected chunk record at offset %d, got op %#x", ci.Pos, op))
	}

	compTag, err := hdr.stringField("compression")
	if err != nil {
		return nil, newBagFormatException(err)
	}
	uncompressedSize, err := hdr.uint32Field("size")
	if err != nil {
		return nil, newBagFormatException(err)
	}

	dlen, err := readRecordDataLen(b.cf)
	if err != nil {
		return nil, err
	}
	body, err := readRecordData(b.cf, dlen)
	if err != nil {
		return nil, err
	}
	if len(body) < 4 {
		return nil, newBagFormatException(errors.New("chunk record body too short for compressed-length field"))
	}
	compressedLen := binary.LittleEndian.Uint32(body[:4])
	if uint64(4+compressedLen) > uint64(len(body)) {
		return nil, newBagFormatException(errors.New("chunk record body shorter than its declared compressed length"))
	}
	compressed := body[4 : 4+compressedLen]

	compressed, err = b.encryptor.DecryptChunk(compressed)
	if err != nil {
		return nil, newBagFormatException(errors.Wrap(err, "decrypt chunk body"))
	}

	ct, err := parseCompressionType(compTag)
	if err != nil {
		return nil, err
	}
	stream, err := b.streamFactory.New(ct)
	if err != nil {
		return nil, err
	}
	decompressed, err := stream.Decompress(compressed, int(uncompressedSize))
	if err != nil {
		return nil, err
	}

	chunk := &decompressedChunk{data: decompressed}
	b.cache.put(ci.Pos, chunk)
	debug.Log("bag: decompressed chunk at %d (%d -> %d bytes)", ci.Pos, len(compressed), len(decompressed))
	return chunk, nil
}

// materialize resolves one IndexEntry to its raw payload bytes and the
// connection that produced it, dispatching on whether the entry came
// from a chunked (2.0) or flat (1.2) bag.
func (b *Bag) materialize(entry IndexEntry) ([]byte, *ConnectionInfo, error) {
	if b.legacy {
		return b.readLegacyMessagePayload(entry)
	}
	return b.readChunkedMessagePayload(entry)
}

func (b *Bag) readChunkedMessagePayload(entry IndexEntry) ([]byte, *ConnectionInfo, error) {
	ci, ok := b.chunkByPos[entry.ChunkPos]
	if !ok {
		return nil, nil, newBagFormatException(errors.Errorf("index entry names unknown chunk at offset %d", entry.ChunkPos))
	}

	chunk, err := b.readChunkBody(ci)
	if err != nil {
		return nil, nil, err
	}
	if int(entry.Offset) >= len(chunk.data) {
		return nil, nil, newBagFormatException(errors.New("index entry offset lies beyond its chunk body"))
	}

	rest := chunk.data[entry.Offset:]
	hdr, consumed, err := parseRecordHeaderFromBytes(rest)
	if err != nil {
		return nil, nil, newBagFormatException(err)
	}
	op, err := hdr.op()
	if err != nil {
		return nil, nil, newBagFormatException(err)
	}
	if op != opMessageData {
		return nil, nil, newBagFormatException(errors.Errorf("expected message-data record, got op %#x", op))
	}

	connID, err := hdr.uint32Field("conn")
	if err != nil {
		return nil, nil, newBagFormatException(err)
	}
	conn, err := b.connectionByID(connID)
	if err != nil {
		return nil, nil, err
	}

	if consumed+4 > len(rest) {
		return nil, nil, newBagFormatException(errors.New("truncated message-data record"))
	}
	dlen := binary.LittleEndian.Uint32(rest[consumed : consumed+4])
	payloadStart := consumed + 4
	if uint64(payloadStart)+uint64(dlen) > uint64(len(rest)) {
		return nil, nil, newBagFormatException(errors.New("truncated message-data payload"))
	}
	payload := rest[payloadStart : payloadStart+int(dlen)]

	return payload, conn, nil
}

func (b *Bag) readLegacyMessagePayload(entry IndexEntry) ([]byte, *ConnectionInfo, error) {
	if _, err := b.cf.Seek(int64(entry.ChunkPos), io.SeekStart); err != nil {
		return nil, nil, err
	}

	hdr, err := readRecordHeader(b.cf)
	if err != nil {
		return nil, nil, newBagFormatException(errors.Wrap(err, "read legacy message record"))
	}
	op, err := hdr.op()
	if err != nil {
		return nil, nil, newBagFormatException(err)
	}
	if op != opMessageData {
		return nil, nil, newBagFormatException(errors.Errorf("expected message-data record, got op %#x", op))
	}

	topic, err := hdr.stringField("topic")
	if err != nil {
		return nil, nil, newBagFormatException(err)
	}

	dlen, err := readRecordDataLen(b.cf)
	if err != nil {
		return nil, nil, err
	}
	payload, err := readRecordData(b.cf, dlen)
	if err != nil {
		return nil, nil, err
	}

	conn, ok := b.connByKey["topic\x00"+topic]
	if !ok {
		return nil, nil, newBagFormatException(errors.Errorf("unknown legacy topic %q", topic))
	}
	return payload, conn, nil
}
