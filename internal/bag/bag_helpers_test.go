package bag

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"

	"github.com/buaaliyuan/readros/internal/errors"
)

func errAs(err error, target interface{}) bool {
	return errors.As(err, target)
}

// corruptFileHeaderIndexPos overwrites the on-disk index_pos field so it
// points back at the file-header record itself (right after the magic
// line) instead of the real trailer. That position still passes the
// "index_pos <= file size" sanity check and still frames a syntactically
// valid record header — it just has the wrong op byte — so readFileV2
// fails with a format error while reading what it expects to be the
// first connection record, rather than reading garbage bytes as an
// enormous bogus header length.
func corruptFileHeaderIndexPos(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	needle := []byte("index_pos=")
	idx := bytes.Index(data, needle)
	if idx < 0 {
		t.Fatal("index_pos field not found in file header record")
	}
	valueOff := idx + len(needle)
	if valueOff+8 > len(data) {
		t.Fatal("file too short for an 8-byte index_pos value")
	}
	binary.LittleEndian.PutUint64(data[valueOff:valueOff+8], uint64(len(magicV2)))

	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// truncateLast chops the last n bytes off the file at path.
func truncateLast(t *testing.T, path string, n int64) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-n); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
}
