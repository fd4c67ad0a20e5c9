package bag

// Buffer is a growable byte region used as staging space for record
// headers, record bodies, and whole uncompressed chunks. It never
// shrinks its backing capacity on its own: SetSize only grows the
// underlying array when the new size exceeds it, so a Buffer reused
// across many records settles at its high-water mark instead of
// reallocating every time.
type Buffer struct {
	buf  []byte
	size int
}

// NewBuffer returns an empty Buffer with no pre-allocated capacity.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Data returns the buffer's current contents (length == Size()).
func (b *Buffer) Data() []byte {
	return b.buf[:b.size]
}

// Size returns the number of logical bytes currently held.
func (b *Buffer) Size() int {
	return b.size
}

// SetSize grows the backing array if necessary and sets the logical size
// to n. Bytes between the old and new size are not guaranteed to be
// zeroed if n shrinks and later grows again.
func (b *Buffer) SetSize(n int) {
	if n > cap(b.buf) {
		grown := make([]byte, n)
		copy(grown, b.buf[:b.size])
		b.buf = grown
	} else if n > len(b.buf) {
		b.buf = b.buf[:cap(b.buf)]
	}
	b.size = n
}

// Reset sets the logical size back to zero without releasing capacity.
func (b *Buffer) Reset() {
	b.size = 0
}

// Append grows the buffer by len(p) and copies p into the new space,
// returning the offset it was written at.
func (b *Buffer) Append(p []byte) int {
	off := b.size
	b.SetSize(b.size + len(p))
	copy(b.buf[off:b.size], p)
	return off
}

// Write implements io.Writer, letting a Buffer stand in anywhere a
// record is framed with writeRecord.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}
