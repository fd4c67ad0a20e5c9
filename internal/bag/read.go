package bag

import (
	"encoding/binary"
	"io"

	"github.com/buaaliyuan/readros/internal/errors"
)

// readFile dispatches on the magic line to the 2.0 or legacy 1.2 reader.
func (b *Bag) readFile() error {
	line, err := b.cf.GetLine()
	if err != nil {
		return newBagFormatException(errors.Wrap(err, "read magic line"))
	}

	switch line {
	case magicV2:
		return b.readFileV2()
	case magicV1:
		return b.readLegacy()
	default:
		return newBagFormatException(errors.Errorf("unrecognized bag magic %q", line))
	}
}

// readFileV2 reads the file-header record, then jumps straight to the
// trailer: connection records, chunk-info records, and finally — for
// each chunk, by seeking to its ChunkInfo.Pos — the per-connection
// index-data records that follow its compressed body. The chunk bodies
// themselves are never decompressed here; that happens lazily, through
// the decompression cache, the first time a message inside one is read.
func (b *Bag) readFileV2() error {
	b.fileHeaderPos = b.cf.Offset()

	hdr, err := readRecordHeader(b.cf)
	if err != nil {
		return newBagFormatException(errors.Wrap(err, "read file-header record"))
	}
	op, err := hdr.op()
	if err != nil {
		return newBagFormatException(err)
	}
	if op != opFileHeader {
		return newBagFormatException(errors.Errorf("expected file-header record, got op %#x", op))
	}

	dlen, err := readRecordDataLen(b.cf)
	if err != nil {
		return err
	}
	if _, err := readRecordData(b.cf, dlen); err != nil {
		return err
	}

	indexPos, err := hdr.uint64Field("index_pos")
	if err != nil {
		return newBagFormatException(err)
	}
	connCount, err := hdr.uint32Field("conn_count")
	if err != nil {
		return newBagFormatException(err)
	}
	chunkCount, err := hdr.uint32Field("chunk_count")
	if err != nil {
		return newBagFormatException(err)
	}

	if err := b.resolveFileHeaderEncryptor(hdr); err != nil {
		return err
	}

	b.indexDataPos = int64(indexPos)
	if b.indexDataPos > b.fileSize() {
		return newBagUnindexedException(errors.New("index_pos lies beyond end of file"))
	}

	if _, err := b.cf.Seek(int64(indexPos), io.SeekStart); err != nil {
		return err
	}

	// A trailer that stops short of the records the file header counts
	// means the file ends before its index.
	trailerErr := func(err error) error {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return newBagUnindexedException(err)
		}
		return err
	}

	b.connections = make([]*ConnectionInfo, connCount)
	for i := uint32(0); i < connCount; i++ {
		conn, err := b.readStandaloneConnectionRecord()
		if err != nil {
			return trailerErr(err)
		}
		if conn.ID >= connCount {
			return newBagFormatException(errors.Errorf("connection id %d out of range for conn_count=%d", conn.ID, connCount))
		}
		b.connections[conn.ID] = conn
		b.connByKey[reconstructConnectionKey(conn.Header)] = conn
		b.connIndex[conn.ID] = &connectionIndex{}
	}

	b.chunkInfos = make([]*ChunkInfo, 0, chunkCount)
	for i := uint32(0); i < chunkCount; i++ {
		ci, err := b.readChunkInfoRecord()
		if err != nil {
			return trailerErr(err)
		}
		b.chunkInfos = append(b.chunkInfos, ci)
		b.chunkByPos[ci.Pos] = ci
	}

	for _, ci := range b.chunkInfos {
		if err := b.readChunkIndexEntries(ci); err != nil {
			return trailerErr(err)
		}
	}

	b.mode = modeBagReading
	return nil
}

func (b *Bag) fileSize() int64 {
	pos, err := b.cf.Seek(0, io.SeekEnd)
	if err != nil {
		return 0
	}
	return pos
}

// reconstructConnectionKey recovers the key resolveConnection would have
// produced for this header at write time. A header that is exactly the
// four keys descriptorHeader synthesizes is treated as topic-only
// (implicit); anything else is treated as an explicit caller-supplied
// header. This mirrors the common case; see DESIGN.md for the residual
// ambiguity this cannot resolve perfectly across a close/reopen boundary.
func reconstructConnectionKey(header map[string]string) string {
	topic := header["topic"]
	if len(header) == 4 {
		_, hasType := header["type"]
		_, hasMD5 := header["md5sum"]
		_, hasDef := header["message_definition"]
		if hasType && hasMD5 && hasDef {
			return "topic\x00" + topic
		}
	}
	return "hdr\x00" + canonicalHeaderKey(header)
}

// resolveFileHeaderEncryptor restores whichever Encryptor wrote this file.
// ReadFieldsFromFileHeader runs before InitForReading because a plugin's
// own fields (e.g. AESEncryptor's KDF cost parameters) may be needed to
// derive the same key InitForReading produced at write time.
func (b *Bag) resolveFileHeaderEncryptor(hdr header) error {
	name, err := hdr.stringField("encryptor")
	if err != nil {
		// No encryptor named: the file was written unencrypted, so any
		// encryptor the caller passed in is set aside.
		b.encryptor = &NoopEncryptor{}
		b.encryptorName = "none"
		return nil
	}

	if b.encryptor == nil {
		enc, err := NewEncryptor(name)
		if err != nil {
			return err
		}
		b.encryptor = enc
	}
	b.encryptorName = name

	initData := hdr["encryptor_init"]
	b.encryptorInit = initData

	extra := make(map[string][]byte)
	for k, v := range hdr {
		switch k {
		case "op", "index_pos", "conn_count", "chunk_count", "encryptor", "encryptor_init":
			continue
		}
		extra[k] = v
	}
	if err := b.encryptor.ReadFieldsFromFileHeader(extra); err != nil {
		return err
	}
	return b.encryptor.InitForReading(initData)
}

func (b *Bag) readStandaloneConnectionRecord() (*ConnectionInfo, error) {
	hdr, err := readRecordHeader(b.cf)
	if err != nil {
		return nil, newBagFormatException(errors.Wrap(err, "read connection record"))
	}
	op, err := hdr.op()
	if err != nil {
		return nil, newBagFormatException(err)
	}
	if op != opConnection {
		return nil, newBagFormatException(errors.Errorf("expected connection record, got op %#x", op))
	}

	topic, err := hdr.stringField("topic")
	if err != nil {
		return nil, newBagFormatException(err)
	}
	connID, err := hdr.uint32Field("conn")
	if err != nil {
		return nil, newBagFormatException(err)
	}

	dlen, err := readRecordDataLen(b.cf)
	if err != nil {
		return nil, err
	}
	raw, err := readRecordData(b.cf, dlen)
	if err != nil {
		return nil, err
	}

	plain, err := b.encryptor.DecryptChunk(raw)
	if err != nil {
		return nil, newBagFormatException(errors.Wrap(err, "reverse connection record encryption"))
	}
	fields, err := decodeConnectionHeader(plain)
	if err != nil {
		return nil, newBagFormatException(err)
	}

	return newConnectionInfo(connID, topic, fields), nil
}

func (b *Bag) readChunkInfoRecord() (*ChunkInfo, error) {
	hdr, err := readRecordHeader(b.cf)
	if err != nil {
		return nil, newBagFormatException(errors.Wrap(err, "read chunk-info record"))
	}
	op, err := hdr.op()
	if err != nil {
		return nil, newBagFormatException(err)
	}
	if op != opChunkInfo {
		return nil, newBagFormatException(errors.Errorf("expected chunk-info record, got op %#x", op))
	}

	pos, err := hdr.uint64Field("chunk_pos")
	if err != nil {
		return nil, newBagFormatException(err)
	}
	startTime, err := hdr.timeField("start_time")
	if err != nil {
		return nil, newBagFormatException(err)
	}
	endTime, err := hdr.timeField("end_time")
	if err != nil {
		return nil, newBagFormatException(err)
	}
	count, err := hdr.uint32Field("count")
	if err != nil {
		return nil, newBagFormatException(err)
	}

	dlen, err := readRecordDataLen(b.cf)
	if err != nil {
		return nil, err
	}
	data, err := readRecordData(b.cf, dlen)
	if err != nil {
		return nil, err
	}
	if uint64(count)*8 != uint64(len(data)) {
		return nil, newBagFormatException(errors.Errorf("chunk-info record has %d bytes, want %d for count=%d", len(data), uint64(count)*8, count))
	}

	ci := newChunkInfo(pos)
	ci.StartTime = startTime
	ci.EndTime = endTime
	ci.hasEntry = true

	off := 0
	for i := uint32(0); i < count; i++ {
		connID := binary.LittleEndian.Uint32(data[off : off+4])
		msgCount := binary.LittleEndian.Uint32(data[off+4 : off+8])
		ci.ConnectionCounts[connID] = msgCount
		off += 8
	}
	return ci, nil
}

// readChunkIndexEntries seeks to a chunk's own record, skips over its
// (still-compressed) body without decompressing it, and reads the
// index-data records that immediately follow — one per connection that
// appeared in the chunk, in the same order closeChunk wrote them.
func (b *Bag) readChunkIndexEntries(ci *ChunkInfo) error {
	if _, err := b.cf.Seek(int64(ci.Pos), io.SeekStart); err != nil {
		return err
	}

	hdr, err := readRecordHeader(b.cf)
	if err != nil {
		return newBagFormatException(errors.Wrap(err, "read chunk record"))
	}
	op, err := hdr.op()
	if err != nil {
		return newBagFormatException(err)
	}
	if op != opChunk {
		return newBagFormatException(errors.Errorf("expected chunk record at offset %d, got op %#x", ci.Pos, op))
	}

	dlen, err := readRecordDataLen(b.cf)
	if err != nil {
		return err
	}
	if _, err := b.cf.Seek(int64(dlen), io.SeekCurrent); err != nil {
		return newBagIOException(errors.Wrap(err, "skip chunk body"))
	}

	for i := 0; i < len(ci.ConnectionCounts); i++ {
		connID, entries, err := b.readIndexDataRecord()
		if err != nil {
			return err
		}
		idx, ok := b.connIndex[connID]
		if !ok {
			return newBagFormatException(errors.Errorf("index-data record names unknown connection %d", connID))
		}
		for j := range entries {
			entries[j].ChunkPos = ci.Pos
			idx.add(entries[j])
		}
	}
	return nil
}

func (b *Bag) readIndexDataRecord() (uint32, []IndexEntry, error) {
	hdr, err := readRecordHeader(b.cf)
	if err != nil {
		return 0, nil, newBagFormatException(errors.Wrap(err, "read index-data record"))
	}
	op, err := hdr.op()
	if err != nil {
		return 0, nil, newBagFormatException(err)
	}
	if op != opIndexData {
		return 0, nil, newBagFormatException(errors.Errorf("expected index-data record, got op %#x", op))
	}

	connID, err := hdr.uint32Field("connection")
	if err != nil {
		return 0, nil, newBagFormatException(err)
	}
	count, err := hdr.uint32Field("count")
	if err != nil {
		return 0, nil, newBagFormatException(err)
	}

	dlen, err := readRecordDataLen(b.cf)
	if err != nil {
		return 0, nil, err
	}
	data, err := readRecordData(b.cf, dlen)
	if err != nil {
		return 0, nil, err
	}
	if uint64(count)*12 != uint64(len(data)) {
		return 0, nil, newBagFormatException(errors.Errorf("index-data record has %d bytes, want %d for count=%d", len(data), uint64(count)*12, count))
	}

	entries := make([]IndexEntry, count)
	off := 0
	for i := range entries {
		sec := binary.LittleEndian.Uint32(data[off : off+4])
		nsec := binary.LittleEndian.Uint32(data[off+4 : off+8])
		offset := binary.LittleEndian.Uint32(data[off+8 : off+12])
		entries[i] = IndexEntry{Time: Time{Sec: sec, Nsec: nsec}, Offset: offset}
		off += 12
	}
	return connID, entries, nil
}
