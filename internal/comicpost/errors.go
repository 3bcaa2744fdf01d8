package comicpost

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// MissingEnvError is returned when required configuration is missing.
type MissingEnvError struct {
	Provider  string
	Variables []string
}

func (e MissingEnvError) Error() string {
	if len(e.Variables) == 0 {
		return fmt.Sprintf("%s credentials not configured", e.Provider)
	}
	return fmt.Sprintf("%s credentials not configured (missing %s)", e.Provider, strings.Join(e.Variables, ", "))
}

// ValidationError captures provider-specific validation issues.
type ValidationError struct {
	Provider string
	Reason   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Provider, e.Reason)
}

// TransportError reports an HTTP-layer failure: the request could not be sent,
// the server answered with a non-2xx status, or the body could not be decoded.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: http %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: http %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: transport failure", e.Op)
}

func (e TransportError) Unwrap() error { return e.Err }

// RemoteAPIError is an error the provider embedded in an otherwise successful response.
type RemoteAPIError struct {
	Method  string
	Code    int
	Message string
}

func (e RemoteAPIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: api error %d: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: api error: %s", e.Method, e.Message)
}

// LocalIOError reports a failure touching the staged media file.
type LocalIOError struct {
	Op   string
	Path string
	Err  error
}

func (e LocalIOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e LocalIOError) Unwrap() error { return e.Err }

// NewLocalIOError wraps err, dropping the *fs.PathError layer so the path is
// not reported twice.
func NewLocalIOError(op, path string, err error) LocalIOError {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		err = pathErr.Err
	}
	return LocalIOError{Op: op, Path: path, Err: err}
}
