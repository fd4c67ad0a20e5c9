package bag

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildLegacyFixture hand-assembles a version-1.2 bag: a file header,
// one message-definition record per topic, message-data records holding
// the payloads, and a trailing topic-index record per topic giving
// (time, own file offset) pairs — there is no chunking in this layout,
// so "chunk_pos" in the index names the message record itself.
func buildLegacyFixture(t *testing.T, path string, topics []string, times []Time, payloads []string) {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString(magicV1)

	fhHdr := newHeaderBuilder().putByte("op", opFileHeader).bytes()
	if _, err := writeRecord(&buf, fhHdr, nil); err != nil {
		t.Fatalf("write file header: %v", err)
	}

	seenTopic := map[string]bool{}
	for _, topic := range topics {
		if seenTopic[topic] {
			continue
		}
		seenTopic[topic] = true
		hdr := newHeaderBuilder().putByte("op", opLegacyMsgDef).putString("topic", topic).bytes()
		data := encodeConnectionHeader(map[string]string{
			"type": "std_msgs/String", "md5sum": "m", "message_definition": "string data",
		})
		if _, err := writeRecord(&buf, hdr, data); err != nil {
			t.Fatalf("write msgdef: %v", err)
		}
	}

	type entry struct {
		t   Time
		pos uint64
	}
	byTopic := map[string][]entry{}

	for i, topic := range topics {
		pos := uint64(buf.Len())
		hdr := newHeaderBuilder().putByte("op", opMessageData).putString("topic", topic).bytes()
		if _, err := writeRecord(&buf, hdr, []byte(payloads[i])); err != nil {
			t.Fatalf("write message: %v", err)
		}
		byTopic[topic] = append(byTopic[topic], entry{t: times[i], pos: pos})
	}

	for topic, entries := range byTopic {
		hdr := newHeaderBuilder().
			putByte("op", opLegacyTopicIndex).
			putString("topic", topic).
			putUint32("count", uint32(len(entries))).
			bytes()

		var data bytes.Buffer
		for _, e := range entries {
			var tb [16]byte
			binary.LittleEndian.PutUint32(tb[0:4], e.t.Sec)
			binary.LittleEndian.PutUint32(tb[4:8], e.t.Nsec)
			binary.LittleEndian.PutUint64(tb[8:16], e.pos)
			data.Write(tb[:])
		}
		if _, err := writeRecord(&buf, hdr, data.Bytes()); err != nil {
			t.Fatalf("write topic index: %v", err)
		}
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestOpenLegacyBagIngestsConnectionsAndIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.bag")
	buildLegacyFixture(t, path,
		[]string{"/a", "/b", "/a"},
		[]Time{{Sec: 1}, {Sec: 2}, {Sec: 3}},
		[]string{"a1", "b1", "a2"})

	b, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if !b.legacy {
		t.Fatal("expected b.legacy to be true after opening a 1.2 bag")
	}
	if b.ConnectionCount() != 2 {
		t.Fatalf("ConnectionCount() = %d, want 2", b.ConnectionCount())
	}
}

func TestLegacyBagViewYieldsPayloadsInTimeOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy-view.bag")
	buildLegacyFixture(t, path,
		[]string{"/a", "/b", "/a"},
		[]Time{{Sec: 3}, {Sec: 1}, {Sec: 2}},
		[]string{"third", "first", "second"})

	b, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	v := NewView()
	v.Add(b, NewQuery(nil))
	it := v.Iterator()

	want := []string{"first", "second", "third"}
	for i, w := range want {
		mi, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			t.Fatalf("iterator exhausted early at %d", i)
		}
		if string(mi.Data) != w {
			t.Fatalf("message %d = %q, want %q", i, mi.Data, w)
		}
	}
	if _, ok, _ := it.Next(); ok {
		t.Fatal("expected exactly 3 messages")
	}
}

func TestOpenAppendRefusesLegacyBag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy-append.bag")
	buildLegacyFixture(t, path, []string{"/a"}, []Time{{Sec: 1}}, []string{"x"})

	if _, err := OpenAppend(path, Options{}); err == nil {
		t.Fatal("expected OpenAppend to refuse a version-1.2 bag")
	}
}
