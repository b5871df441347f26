// Package apperr classifies failures of the indexing pipeline and the query path.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the class of a failure. Callers branch on it to decide between
// skipping, aborting a run, or answering a request with 4xx vs 5xx.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors that were never classified.
	KindUnknown Kind = iota
	// KindConfig is invalid or missing configuration. Fatal at startup.
	KindConfig
	// KindScan is an indexing root that does not exist or cannot be read.
	KindScan
	// KindFileRead is a single candidate file that cannot be read. Skipped.
	KindFileRead
	// KindUpstream is an embedding service failure, including a vector count mismatch.
	KindUpstream
	// KindStore is a vector database or index state failure.
	KindStore
	// KindClientRequest is a malformed search request.
	KindClientRequest
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindConfig:        "config",
	KindScan:          "scan",
	KindFileRead:      "file_read",
	KindUpstream:      "upstream",
	KindStore:         "store",
	KindClientRequest: "client_request",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified error. Op names the failed operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Config wraps err as a configuration error.
func Config(op string, err error) error { return New(KindConfig, op, err) }

// Scan wraps err as a scan error.
func Scan(op string, err error) error { return New(KindScan, op, err) }

// FileRead wraps err as a per-file read error.
func FileRead(op string, err error) error { return New(KindFileRead, op, err) }

// Upstream wraps err as an embedding service error.
func Upstream(op string, err error) error { return New(KindUpstream, op, err) }

// Store wraps err as a storage error.
func Store(op string, err error) error { return New(KindStore, op, err) }

// ClientRequest wraps err as a client request error.
func ClientRequest(op string, err error) error { return New(KindClientRequest, op, err) }

// Configf formats a configuration error message.
func Configf(format string, args ...interface{}) error {
	return Config("", fmt.Errorf(format, args...))
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
