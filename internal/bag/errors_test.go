package bag

import (
	"testing"

	"github.com/buaaliyuan/readros/internal/errors"
)

func TestExceptionTypesWrapAndUnwrap(t *testing.T) {
	cause := errors.New("underlying cause")

	for _, tc := range []struct {
		name string
		err  error
	}{
		{"BagException", newBagException(cause)},
		{"BagIOException", newBagIOException(cause)},
		{"BagFormatException", newBagFormatException(cause)},
		{"BagUnindexedException", newBagUnindexedException(cause)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Error() != cause.Error() {
				t.Fatalf("Error() = %q, want %q", tc.err.Error(), cause.Error())
			}
			if errors.Cause(tc.err) != cause && errors.Unwrap(tc.err) != cause {
				t.Fatalf("%v does not unwrap to the original cause", tc.name)
			}
		})
	}
}

func TestErrClosedIsABagException(t *testing.T) {
	var be *BagException
	if !errors.As(ErrClosed, &be) {
		t.Fatal("ErrClosed should be a *BagException")
	}
}
