package bag

import (
	"encoding/binary"
	"io"

	"github.com/buaaliyuan/readros/internal/errors"
)

const magicV1 = "#ROSBAG V1.2\n"

// Record op codes used only by the pre-chunking 1.2 layout. They share
// the numbering space with the 2.0 op codes in record.go but are only
// ever dispatched from readLegacy, so there is no collision in practice:
// a 1.2 file never contains a 2.0 chunk record and vice versa.
const (
	opLegacyMsgDef     byte = 0x01
	opLegacyTopicIndex byte = 0x04
)

// readLegacy ingests a version-1.2 bag, which predates chunking:
// messages sit directly in the record stream keyed by topic name rather
// than a connection id, and per-topic index entries live in trailing
// topic-index records instead of per-chunk index-data records. Once
// ingested, a 1.2 bag's connections and index entries are
// indistinguishable to View/Instantiate from a 2.0 bag's — they differ
// only in how IndexEntry.ChunkPos is interpreted downstream: for a 1.2
// entry it names the message record's own offset rather than a chunk's.
func (b *Bag) readLegacy() error {
	topicConnID := make(map[string]uint32)

	for {
		hdr, err := readRecordHeader(b.cf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		op, err := hdr.op()
		if err != nil {
			return newBagFormatException(err)
		}

		switch op {
		case opFileHeader:
			if err := b.skipRecordData(); err != nil {
				return err
			}
		case opLegacyMsgDef:
			if err := b.readLegacyMsgDefRecord(hdr, topicConnID); err != nil {
				return err
			}
		case opMessageData:
			if err := b.readLegacyMessageDataRecord(hdr); err != nil {
				return err
			}
		case opLegacyTopicIndex:
			if err := b.readLegacyTopicIndexRecord(hdr, topicConnID); err != nil {
				return err
			}
		default:
			return newBagFormatException(errors.Errorf("unrecognized legacy record op %#x", op))
		}
	}

	b.legacy = true
	b.mode = modeBagReading
	return nil
}

func (b *Bag) skipRecordData() error {
	dlen, err := readRecordDataLen(b.cf)
	if err != nil {
		return err
	}
	if _, err := b.cf.Seek(int64(dlen), io.SeekCurrent); err != nil {
		return newBagIOException(errors.Wrap(err, "skip record data"))
	}
	return nil
}

// readLegacyMsgDefRecord registers a connection the first time its topic
// is seen; a topic seen again (a bag may repeat its message-definition
// record before every message, per the original 1.2 writer) is a no-op.
func (b *Bag) readLegacyMsgDefRecord(hdr header, topicConnID map[string]uint32) error {
	topic, err := hdr.stringField("topic")
	if err != nil {
		return newBagFormatException(err)
	}

	dlen, err := readRecordDataLen(b.cf)
	if err != nil {
		return err
	}
	data, err := readRecordData(b.cf, dlen)
	if err != nil {
		return err
	}

	if _, ok := topicConnID[topic]; ok {
		return nil
	}

	fields, err := decodeConnectionHeader(data)
	if err != nil {
		return newBagFormatException(err)
	}
	fields["topic"] = topic

	id := uint32(len(b.connections))
	conn := newConnectionInfo(id, topic, fields)
	b.connections = append(b.connections, conn)
	b.connIndex[id] = &connectionIndex{}
	b.connByKey["topic\x00"+topic] = conn
	topicConnID[topic] = id
	return nil
}

// readLegacyMessageDataRecord only validates and skips the record: the
// authoritative index comes from the topic-index trailer, not this
// inline pass, so message bodies are not touched here.
func (b *Bag) readLegacyMessageDataRecord(hdr header) error {
	if _, err := hdr.stringField("topic"); err != nil {
		return newBagFormatException(err)
	}
	return b.skipRecordData()
}

func (b *Bag) readLegacyTopicIndexRecord(hdr header, topicConnID map[string]uint32) error {
	topic, err := hdr.stringField("topic")
	if err != nil {
		return newBagFormatException(err)
	}
	count, err := hdr.uint32Field("count")
	if err != nil {
		return newBagFormatException(err)
	}

	dlen, err := readRecordDataLen(b.cf)
	if err != nil {
		return err
	}
	data, err := readRecordData(b.cf, dlen)
	if err != nil {
		return err
	}

	connID, ok := topicConnID[topic]
	if !ok {
		return newBagFormatException(errors.Errorf("topic-index record for unknown topic %q", topic))
	}
	if uint64(count)*16 != uint64(len(data)) {
		return newBagFormatException(errors.Errorf("topic-index record has %d bytes, want %d for count=%d", len(data), uint64(count)*16, count))
	}

	idx := b.connIndex[connID]
	off := 0
	for i := uint32(0); i < count; i++ {
		sec := binary.LittleEndian.Uint32(data[off : off+4])
		nsec := binary.LittleEndian.Uint32(data[off+4 : off+8])
		chunkPos := binary.LittleEndian.Uint64(data[off+8 : off+16])
		idx.add(IndexEntry{Time: Time{Sec: sec, Nsec: nsec}, ChunkPos: chunkPos, Offset: 0})
		off += 16
	}
	return nil
}
