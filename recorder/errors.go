package recorder

import (
	"errors"

	"github.com/onnwee/ghostlog/chat"
	"github.com/onnwee/ghostlog/config"
	"github.com/onnwee/ghostlog/logfile"
)

// ErrArchive wraps failures of the optional archive sink.
var ErrArchive = errors.New("archive")

// ErrorKind groups the errors the recorder loop can see by how they are handled.
type ErrorKind int

const (
	// KindUnknown is anything not matched below.
	KindUnknown ErrorKind = iota
	// KindConfig is an unreadable or invalid channel file. Fatal at startup, the prior
	// configuration is kept on reload.
	KindConfig
	// KindIO is a failed open, append or close of a log file.
	KindIO
	// KindMalformed is a persisted command with an unexpected parameter shape.
	KindMalformed
	// KindMissingHandle is a record for a channel without a log file.
	KindMissingHandle
	// KindArchive is a failed archive insert. It never blocks file logging.
	KindArchive
)

// String returns the metric label of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindIO:
		return "io"
	case KindMalformed:
		return "malformed"
	case KindMissingHandle:
		return "missing_handle"
	case KindArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// ClassifyError maps err to its kind. A nil error is KindUnknown.
//
// Matching order:
//   - *config.Error
//   - logfile.ErrNoHandle (checked before ErrIO, a missing handle is not an i/o failure)
//   - logfile.ErrIO, logfile.ErrClosed
//   - chat.ErrMalformedEvent
//   - ErrArchive
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var cfgErr *config.Error
	switch {
	case errors.As(err, &cfgErr):
		return KindConfig
	case errors.Is(err, logfile.ErrNoHandle):
		return KindMissingHandle
	case errors.Is(err, logfile.ErrIO), errors.Is(err, logfile.ErrClosed):
		return KindIO
	case errors.Is(err, chat.ErrMalformedEvent):
		return KindMalformed
	case errors.Is(err, ErrArchive):
		return KindArchive
	}
	return KindUnknown
}

// IsConfigError reports whether err is a configuration failure.
func IsConfigError(err error) bool {
	return ClassifyError(err) == KindConfig
}
