package bag

import (
	"bufio"
	"io"
	"os"

	"github.com/buaaliyuan/readros/internal/debug"
	"github.com/buaaliyuan/readros/internal/errors"
)

// chunkedFileMode tracks which direction(s) a ChunkedFile's underlying
// os.File was opened for.
type chunkedFileMode int

const (
	modeClosed chunkedFileMode = iota
	modeRead
	modeWrite
	modeReadWrite
)

// ChunkedFile owns the underlying file handle, a buffered reader and/or
// writer over it, and the logical offset counter the bag engine uses to
// place records. Only outer records ever flow through a ChunkedFile
// directly — chunk *bodies* are compressed in memory first
// (internal/bag/stream.go) and handed to Write as an opaque blob, so
// ChunkedFile itself never needs to know about compression.
type ChunkedFile struct {
	f    *os.File
	mode chunkedFileMode
	w    *bufio.Writer
	r    *bufio.Reader

	offset int64
}

const bufSize = 64 * 1024

func openFile(path string, flag int, perm os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, newBagIOException(errors.Wrap(err, "open"))
	}
	return f, nil
}

// OpenRead opens path for reading only.
func OpenRead(path string) (*ChunkedFile, error) {
	debug.Log("chunkedfile: open read %v", path)
	f, err := openFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return &ChunkedFile{f: f, mode: modeRead, r: bufio.NewReaderSize(f, bufSize)}, nil
}

// OpenWrite truncates (or creates) path and opens it for writing only.
func OpenWrite(path string) (*ChunkedFile, error) {
	debug.Log("chunkedfile: open write %v", path)
	f, err := openFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &ChunkedFile{f: f, mode: modeWrite, w: bufio.NewWriterSize(f, bufSize)}, nil
}

// OpenReadWrite opens an existing file for both reading and writing,
// without truncating it. Used by the append path.
func OpenReadWrite(path string) (*ChunkedFile, error) {
	debug.Log("chunkedfile: open read-write %v", path)
	f, err := openFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	cf := &ChunkedFile{f: f, mode: modeReadWrite}
	cf.r = bufio.NewReaderSize(f, bufSize)
	cf.w = bufio.NewWriterSize(f, bufSize)
	return cf, nil
}

// Offset returns the logical file position as the library understands
// it: the position the next Write will land at, once any buffered bytes
// are flushed.
func (c *ChunkedFile) Offset() int64 {
	return c.offset
}

// Write appends p at the current offset and advances it by len(p).
func (c *ChunkedFile) Write(p []byte) (int, error) {
	if c.w == nil {
		return 0, newBagException(errors.New("chunked file not open for writing"))
	}
	n, err := c.w.Write(p)
	c.offset += int64(n)
	if err != nil {
		return n, newBagIOException(errors.Wrap(err, "write"))
	}
	return n, nil
}

// Read fills p entirely from the current offset, or fails with an I/O
// error.
func (c *ChunkedFile) Read(p []byte) (int, error) {
	if c.r == nil {
		return 0, newBagException(errors.New("chunked file not open for reading"))
	}
	n, err := io.ReadFull(c.r, p)
	c.offset += int64(n)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return n, err
		}
		return n, newBagIOException(errors.Wrap(err, "read"))
	}
	return n, nil
}

// GetLine reads bytes up to and including the next '\n' (used to read the
// magic-string line at the top of the file).
func (c *ChunkedFile) GetLine() (string, error) {
	if c.r == nil {
		return "", newBagException(errors.New("chunked file not open for reading"))
	}
	line, err := c.r.ReadString('\n')
	c.offset += int64(len(line))
	if err != nil {
		return line, newBagIOException(errors.Wrap(err, "getline"))
	}
	return line, nil
}

// Seek flushes and finalizes any active write buffering, discards any
// buffered (unread) read-ahead bytes, and moves to the given position.
func (c *ChunkedFile) Seek(offset int64, whence int) (int64, error) {
	if c.w != nil {
		if err := c.w.Flush(); err != nil {
			return 0, newBagIOException(errors.Wrap(err, "flush before seek"))
		}
	}

	pos, err := c.f.Seek(offset, whence)
	if err != nil {
		return 0, newBagIOException(errors.Wrap(err, "seek"))
	}

	if c.r != nil {
		// A fresh bufio.Reader has no buffered bytes: this discards
		// whatever read-ahead the old one had pulled.
		c.r = bufio.NewReaderSize(c.f, bufSize)
	}

	c.offset = pos
	return pos, nil
}

// Truncate truncates the underlying file to length bytes. The caller must
// have seeked (or otherwise know) that length is not ahead of any
// buffered-but-unflushed write.
func (c *ChunkedFile) Truncate(length int64) error {
	if c.w != nil {
		if err := c.w.Flush(); err != nil {
			return newBagIOException(errors.Wrap(err, "flush before truncate"))
		}
	}
	if err := c.f.Truncate(length); err != nil {
		return newBagIOException(errors.Wrap(err, "truncate"))
	}
	return nil
}

// Flush pushes any buffered writes down to the OS.
func (c *ChunkedFile) Flush() error {
	if c.w == nil {
		return nil
	}
	if err := c.w.Flush(); err != nil {
		return newBagIOException(errors.Wrap(err, "flush"))
	}
	return nil
}

// Close flushes any pending writes and closes the underlying file.
func (c *ChunkedFile) Close() error {
	if c.mode == modeClosed {
		return nil
	}
	var ferr error
	if c.w != nil {
		ferr = c.w.Flush()
	}
	cerr := c.f.Close()
	c.mode = modeClosed
	if ferr != nil {
		return newBagIOException(errors.Wrap(ferr, "flush on close"))
	}
	if cerr != nil {
		return newBagIOException(errors.Wrap(cerr, "close"))
	}
	return nil
}
