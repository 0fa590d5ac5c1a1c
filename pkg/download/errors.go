package download

import (
	"errors"
	"fmt"
)

// ErrorCode classifies download and parsing failures.
type ErrorCode string

const (
	VersionFileNotFound         ErrorCode = "VersionFileNotFound"
	VersionFileNotAccessible    ErrorCode = "VersionFileNotAccessible"
	VersionFileInvalid          ErrorCode = "VersionFileInvalid"
	DatabaseFileNotFound        ErrorCode = "DatabaseFileNotFound"
	DatabaseFileNotAccessible   ErrorCode = "DatabaseFileNotAccessible"
	DatabaseFileVersionMissing  ErrorCode = "DatabaseFileVersionMissing"
	DatabaseFileVersionMismatch ErrorCode = "DatabaseFileVersionMismatch"
	DatabaseFileInvalidJSON     ErrorCode = "DatabaseFileInvalidJSON"
	DatabaseFileInvalidRecord   ErrorCode = "DatabaseFileInvalidRecord"
)

// ErrIncrementalUnsupported is returned when the local data can only be
// brought up to date with a patch download.
var ErrIncrementalUnsupported = errors.New("incremental updates are not supported")

// DownloadError is returned for every failure to fetch or parse a version
// manifest or a database file.
type DownloadError struct {
	Code ErrorCode
	// URL of the file being processed, if known.
	URL string
	// Line holds the offending record for parse failures.
	Line string
	Msg  string
	Err  error
}

func (e *DownloadError) Error() string {
	msg := string(e.Code)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.URL != "" {
		msg += fmt.Sprintf(" (%s)", e.URL)
	}
	if e.Line != "" {
		msg += fmt.Sprintf(" line: %q", truncate(e.Line, 120))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Is reports whether target is a *DownloadError with the same code, so
// errors.Is(err, &DownloadError{Code: VersionFileNotFound}) works.
func (e *DownloadError) Is(target error) bool {
	t, ok := target.(*DownloadError)
	return ok && t.Code == e.Code
}

// IsCode reports whether err is a DownloadError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var de *DownloadError
	return errors.As(err, &de) && de.Code == code
}

func newError(code ErrorCode, msg string, err error) *DownloadError {
	return &DownloadError{Code: code, Msg: msg, Err: err}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
