package bag

import "github.com/buaaliyuan/readros/internal/errors"

// The four error kinds a bag can raise. Each wraps an underlying error so
// callers can still unwrap to the original cause while switching on the
// exported type to decide how to react.

// BagException reports a generic invariant violation, e.g. writing to a
// closed bag.
type BagException struct{ err error }

func (e *BagException) Error() string { return e.err.Error() }
func (e *BagException) Unwrap() error { return e.err }

func newBagException(err error) error { return &BagException{err: err} }

// BagIOException reports an underlying file read/write failure or a short
// write.
type BagIOException struct{ err error }

func (e *BagIOException) Error() string { return e.err.Error() }
func (e *BagIOException) Unwrap() error { return e.err }

func newBagIOException(err error) error { return &BagIOException{err: err} }

// BagFormatException reports a magic mismatch, unknown version, unknown
// op, unknown connection id, invalid content length, or a truncated
// record.
type BagFormatException struct{ err error }

func (e *BagFormatException) Error() string { return e.err.Error() }
func (e *BagFormatException) Unwrap() error { return e.err }

func newBagFormatException(err error) error { return &BagFormatException{err: err} }

// BagUnindexedException reports a file that ends before its trailer; a
// reindex tool (out of scope here) would be needed to recover it.
type BagUnindexedException struct{ err error }

func (e *BagUnindexedException) Error() string { return e.err.Error() }
func (e *BagUnindexedException) Unwrap() error { return e.err }

func newBagUnindexedException(err error) error { return &BagUnindexedException{err: err} }

var (
	// ErrClosed is returned by Write once the bag has been closed.
	ErrClosed = newBagException(errors.New("bag is closed"))
)
