package labclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransport marks requests that never produced an HTTP response.
	ErrTransport = errors.New("lab backend unreachable")

	// ErrNotFound marks requests against an entity the backend no longer has.
	ErrNotFound = errors.New("entity not found")

	ErrMalformedResponse = errors.New("malformed response from lab backend")
)

type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// IsConflict reports whether err comes from acting on an entity that no
// longer exists remotely.
func IsConflict(err error) bool {
	return errors.Is(err, ErrNotFound)
}
