package bag

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/buaaliyuan/readros/internal/errors"
)

// Write records one message on topic at time t. desc supplies the
// connection's type descriptor when connHeader is nil; otherwise topic
// is inserted into a copy of connHeader and that becomes the connection's
// full header.
//
// A chunk is opened lazily on the first message after the bag was
// created or after the previous chunk closed, and closed again once the
// accumulated uncompressed body crosses ChunkThreshold. Unlike the
// incremental per-record compression a streaming writer would use, every
// record accepted while a chunk is open goes only into an in-memory
// Buffer; the chunk's single on-disk record — header, compressed and
// encrypted body — is emitted in one piece when the chunk closes. Because
// nothing else is written to the file while a chunk is open, the file
// offset captured when the chunk opened is guaranteed to still be the
// offset the finalized chunk record lands at.
func (b *Bag) Write(topic string, t Time, payload []byte, desc MessageDescriptor, connHeader map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkNotClosed(); err != nil {
		return err
	}
	if b.mode != modeBagWriting && b.mode != modeBagWritingChunk {
		return newBagException(errors.New("bag is not open for writing"))
	}
	if t.Before(TimeMin) {
		return newBagException(errors.Errorf("message time %v precedes the minimum recordable time", t))
	}

	conn, isNew, err := b.resolveConnection(topic, desc, connHeader)
	if err != nil {
		return err
	}

	if _, err := b.cf.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	if b.mode == modeBagWriting {
		if err := b.openChunk(); err != nil {
			return err
		}
	}

	if isNew {
		if err := b.emitConnectionRecord(conn); err != nil {
			return err
		}
	}

	offset := uint32(b.chunkBuf.Size())
	if err := b.appendMessageRecord(conn, t, payload); err != nil {
		return err
	}

	entry := IndexEntry{Time: t, ChunkPos: b.curChunkInfo.Pos, Offset: offset}
	b.connIndex[conn.ID].add(entry)
	b.curConnIndexFor(conn.ID).add(entry)
	b.curChunkInfo.observe(conn.ID, t)
	b.revision++

	if b.chunkBuf.Size() > b.chunkThreshold {
		if err := b.closeChunk(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bag) resolveConnection(topic string, desc MessageDescriptor, connHeader map[string]string) (*ConnectionInfo, bool, error) {
	key, fullHeader := connectionKey(topic, connHeader)
	if conn, ok := b.connByKey[key]; ok {
		return conn, false, nil
	}

	header := fullHeader
	if header == nil {
		header = descriptorHeader(topic, desc)
	}

	id := uint32(len(b.connections))
	conn := newConnectionInfo(id, topic, header)
	b.connections = append(b.connections, conn)
	b.connByKey[key] = conn
	b.connIndex[id] = &connectionIndex{}
	return conn, true, nil
}

func (b *Bag) curConnIndexFor(id uint32) *connectionIndex {
	idx, ok := b.curChunkIdx[id]
	if !ok {
		idx = &connectionIndex{}
		b.curChunkIdx[id] = idx
	}
	return idx
}

func (b *Bag) openChunk() error {
	b.curChunkInfo = newChunkInfo(uint64(b.cf.Offset()))
	b.curChunkIdx = make(map[uint32]*connectionIndex)
	b.chunkBuf.Reset()
	b.mode = modeBagWritingChunk
	return nil
}

func (b *Bag) emitConnectionRecord(conn *ConnectionInfo) error {
	hdr := newHeaderBuilder().
		putByte("op", opConnection).
		putString("topic", conn.Topic).
		putUint32("conn", conn.ID).
		bytes()
	data := encodeConnectionHeader(conn.Header)
	_, err := writeRecord(b.chunkBuf, hdr, data)
	return err
}

func (b *Bag) appendMessageRecord(conn *ConnectionInfo, t Time, payload []byte) error {
	hdr := newHeaderBuilder().
		putByte("op", opMessageData).
		putUint32("conn", conn.ID).
		putTime("time", t).
		bytes()
	_, err := writeRecord(b.chunkBuf, hdr, payload)
	return err
}

// closeChunk compresses and encrypts the accumulated chunk body, writes
// it as the chunk's single on-disk record, follows it with one index-data
// record per connection that appeared in the chunk, and retains the
// finished ChunkInfo for the trailer.
func (b *Bag) closeChunk() error {
	stream, err := b.streamFactory.New(b.compression)
	if err != nil {
		return err
	}

	uncompressed := b.chunkBuf.Data()
	compressed, err := stream.Compress(uncompressed)
	if err != nil {
		return err
	}
	compressed, err = b.encryptor.EncryptChunk(compressed, b.curChunkInfo.Pos)
	if err != nil {
		return err
	}

	hdr := newHeaderBuilder().
		putByte("op", opChunk).
		putString("compression", string(b.compression)).
		putUint32("size", uint32(len(uncompressed))).
		bytes()

	var body bytes.Buffer
	var lenField [4]byte
	binary.LittleEndian.PutUint32(lenField[:], uint32(len(compressed)))
	body.Write(lenField[:])
	body.Write(compressed)

	if _, err := writeRecord(b.cf, hdr, body.Bytes()); err != nil {
		return err
	}

	connIDs := make([]uint32, 0, len(b.curChunkIdx))
	for id := range b.curChunkIdx {
		connIDs = append(connIDs, id)
	}
	sort.Slice(connIDs, func(i, j int) bool { return connIDs[i] < connIDs[j] })

	for _, id := range connIDs {
		if err := b.writeIndexDataRecord(id, b.curChunkIdx[id].sorted()); err != nil {
			return err
		}
	}

	b.chunkInfos = append(b.chunkInfos, b.curChunkInfo)
	b.chunkByPos[b.curChunkInfo.Pos] = b.curChunkInfo
	b.curChunkInfo = nil
	b.curChunkIdx = make(map[uint32]*connectionIndex)
	b.chunkBuf.Reset()
	b.mode = modeBagWriting
	return nil
}

func (b *Bag) writeIndexDataRecord(connID uint32, entries []IndexEntry) error {
	hdr := newHeaderBuilder().
		putByte("op", opIndexData).
		putUint32("connection", connID).
		putUint32("ver", 1).
		putUint32("count", uint32(len(entries))).
		bytes()

	var data bytes.Buffer
	for _, e := range entries {
		var tb [8]byte
		binary.LittleEndian.PutUint32(tb[0:4], e.Time.Sec)
		binary.LittleEndian.PutUint32(tb[4:8], e.Time.Nsec)
		data.Write(tb[:])

		var ob [4]byte
		binary.LittleEndian.PutUint32(ob[:], e.Offset)
		data.Write(ob[:])
	}

	_, err := writeRecord(b.cf, hdr, data.Bytes())
	return err
}

// closeWriting flushes any open chunk, then writes the trailer: one
// connection record per known connection, one chunk-info record per
// closed chunk, then rewrites the file-header record in place with the
// final index position and counts.
func (b *Bag) closeWriting() error {
	if b.mode == modeBagWritingChunk {
		if err := b.closeChunk(); err != nil {
			return err
		}
	}

	indexPos, err := b.cf.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	b.indexDataPos = indexPos

	for _, conn := range b.connections {
		if err := b.writeStandaloneConnectionRecord(conn); err != nil {
			return err
		}
	}
	for _, ci := range b.chunkInfos {
		if err := b.writeChunkInfoRecord(ci); err != nil {
			return err
		}
	}

	if _, err := b.cf.Seek(b.fileHeaderPos, io.SeekStart); err != nil {
		return err
	}
	if err := b.writeFileHeaderRecord(uint64(b.indexDataPos), uint32(len(b.connections)), uint32(len(b.chunkInfos))); err != nil {
		return err
	}
	return b.cf.Flush()
}

// writeStandaloneConnectionRecord writes one connection's record to the
// trailer. Unlike the copy embedded in a chunk body (which rides along
// with the rest of the chunk's encryption), a standalone trailer record's
// data is individually transformed by the encryptor so the trailer can be
// scanned without decrypting every chunk first.
func (b *Bag) writeStandaloneConnectionRecord(conn *ConnectionInfo) error {
	hdr := newHeaderBuilder().
		putByte("op", opConnection).
		putString("topic", conn.Topic).
		putUint32("conn", conn.ID).
		bytes()
	data := encodeConnectionHeader(conn.Header)
	rewritten, err := b.encryptor.RewriteConnectionRecord(data, uint64(conn.ID))
	if err != nil {
		return err
	}
	_, err = writeRecord(b.cf, hdr, rewritten)
	return err
}

func (b *Bag) writeChunkInfoRecord(ci *ChunkInfo) error {
	hdr := newHeaderBuilder().
		putByte("op", opChunkInfo).
		putUint32("ver", 1).
		putUint64("chunk_pos", ci.Pos).
		putTime("start_time", ci.StartTime).
		putTime("end_time", ci.EndTime).
		putUint32("count", uint32(len(ci.ConnectionCounts))).
		bytes()

	ids := make([]uint32, 0, len(ci.ConnectionCounts))
	for id := range ci.ConnectionCounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var data bytes.Buffer
	for _, id := range ids {
		var idb [4]byte
		binary.LittleEndian.PutUint32(idb[:], id)
		data.Write(idb[:])

		var cb [4]byte
		binary.LittleEndian.PutUint32(cb[:], ci.ConnectionCounts[id])
		data.Write(cb[:])
	}

	_, err := writeRecord(b.cf, hdr, data.Bytes())
	return err
}

func (b *Bag) buildFileHeaderFields(indexPos uint64, connCount, chunkCount uint32) []byte {
	hb := newHeaderBuilder().
		putByte("op", opFileHeader).
		putUint64("index_pos", indexPos).
		putUint32("conn_count", connCount).
		putUint32("chunk_count", chunkCount)

	if b.encryptorName != "" && b.encryptorName != "none" {
		hb.putString("encryptor", b.encryptorName)
	}
	if len(b.encryptorInit) > 0 {
		hb.putField("encryptor_init", b.encryptorInit)
	}

	extra := make(map[string][]byte)
	b.encryptor.AddFieldsToFileHeader(extra)
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		hb.putField(k, extra[k])
	}

	return hb.bytes()
}

// writeFileHeaderRecord writes the file-header record at the current
// file position, padding its data so the whole record occupies exactly
// fileHeaderReservedSize bytes regardless of how many fields it carries.
func (b *Bag) writeFileHeaderRecord(indexPos uint64, connCount, chunkCount uint32) error {
	hdr := b.buildFileHeaderFields(indexPos, connCount, chunkCount)
	fixed := 4 + len(hdr) + 4
	if fixed > fileHeaderReservedSize {
		return newBagException(errors.Errorf("file header needs %d bytes, exceeds reserved %d", fixed, fileHeaderReservedSize))
	}
	pad := make([]byte, fileHeaderReservedSize-fixed)
	_, err := writeRecord(b.cf, hdr, pad)
	return err
}

func (b *Bag) writePlaceholderFileHeader() error {
	return b.writeFileHeaderRecord(0, 0, 0)
}
