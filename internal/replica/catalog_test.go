package replica

import (
	"errors"
	"testing"
)

func TestGeoSortUnsupportedErrorWrapsCause(t *testing.T) {
	cause := errors.New("sort not supported")
	err := &GeoSortUnsupportedError{Err: cause}

	if !errors.Is(err, cause) {
		t.Fatal("expected Unwrap to expose the underlying cause")
	}
	if err.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
}
