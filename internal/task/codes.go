package task

import "errors"

// Code is the closed set of error identifiers surfaced to callers. Shells
// map them to user-facing messages; the core never invents new ones at
// runtime.
type Code string

const (
	CodeUnsupportedImageFormat   Code = "unsupported-image-format"
	CodeUnsupportedVideoFormat   Code = "unsupported-video-format"
	CodeImageDecodeFailed        Code = "image-decode-failed"
	CodeVideoOpenFailed          Code = "video-open-failed"
	CodeFileNotFound             Code = "file-not-found"
	CodeNoFaceDetected           Code = "no-face-detected"
	CodeNoFaceInSelectedRegions  Code = "no-face-in-selected-regions"
	CodeMissingFaceSources       Code = "missing-face-sources"
	CodeInvalidFaceSourceBinding Code = "invalid-face-source-binding"
	CodeFaceSourceNotFound       Code = "face-source-not-found"
	CodeOutputWriteFailed        Code = "output-write-failed"
	CodeVideoWriteFailed         Code = "video-write-failed"
	CodeVideoOutputMissing       Code = "video-output-missing"
	CodeCancelled                Code = "cancelled"
	CodeModelLoadFailed          Code = "model-load-failed"
)

// Error carries a taxonomy code along with its cause.
type Error struct {
	Code  Code
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return string(e.Code) + ": " + e.cause.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// E wraps a cause with a taxonomy code. A nil cause is allowed.
func E(code Code, cause error) *Error {
	return &Error{Code: code, cause: cause}
}

// CodeOf extracts the taxonomy code from an error chain, or "" when the
// error carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
