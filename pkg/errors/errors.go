// Package errors provides structured error types for vpmlisting.
//
// Every failure that can abort a listing generation carries a machine-readable
// [Code] so callers can tell a broken package descriptor from a flaky
// upstream without parsing messages:
//
//   - VALIDATION_ERROR: a Source, package descriptor or Listing broke its schema
//   - FETCH_ERROR: an HTTP request failed after all retries
//   - MISSING_ASSET: a release lacks the archive its descriptor promises
//   - REPOSITORY_MISSING: a repository vanished from a harvest batch (warning)
//
// # Usage
//
//	err := errors.New(errors.ErrCodeMissingAsset, "release %s has no %s", name, zip)
//	if errors.Is(err, errors.ErrCodeMissingAsset) {
//	    // Handle missing archive
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeFetch, origErr, "fetch %s", url)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Contract violations
	ErrCodeValidation          Code = "VALIDATION_ERROR"
	ErrCodeInconsistentPackage Code = "INCONSISTENT_PACKAGE"
	ErrCodeDuplicateVersion    Code = "DUPLICATE_VERSION"
	ErrCodeInvalidInput        Code = "INVALID_INPUT"
	ErrCodeInvalidConfig       Code = "INVALID_CONFIG"

	// Upstream errors
	ErrCodeFetch             Code = "FETCH_ERROR"
	ErrCodeMissingAsset      Code = "MISSING_ASSET"
	ErrCodeRepositoryMissing Code = "REPOSITORY_MISSING"
	ErrCodeNotFound          Code = "NOT_FOUND"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// GetCode extracts the outermost error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix, followed by
// the cause when there is one.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return e.Message + ": " + UserMessage(e.Cause)
		}
		return e.Message
	}
	return err.Error()
}

// FetchError is returned when an HTTP request could not be completed.
// Status is zero when the failure happened below HTTP (DNS, TLS, reset).
type FetchError struct {
	URL      string
	Status   int
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("GET %s: status %d after %d attempt(s): %v", e.URL, e.Status, e.Attempts, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("GET %s: status %d after %d attempt(s)", e.URL, e.Status, e.Attempts)
	default:
		return fmt.Sprintf("GET %s: %v after %d attempt(s)", e.URL, e.Err, e.Attempts)
	}
}

// Unwrap returns the transport-level cause.
func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps a failed request as a FETCH_ERROR.
func NewFetchError(url string, status, attempts int, cause error) *Error {
	return &Error{
		Code:    ErrCodeFetch,
		Message: "fetch failed",
		Cause:   &FetchError{URL: url, Status: status, Attempts: attempts, Err: cause},
	}
}

// MissingAssetError names the asset a release was expected to carry.
type MissingAssetError struct {
	Repo    string
	Release string
	Asset   string
}

// Error implements the error interface.
func (e *MissingAssetError) Error() string {
	return fmt.Sprintf("asset %q not found in release %q of %s", e.Asset, e.Release, e.Repo)
}

// NewMissingAsset reports a release that lacks an expected asset.
func NewMissingAsset(repo, release, asset string) *Error {
	return &Error{
		Code:    ErrCodeMissingAsset,
		Message: fmt.Sprintf("failed to find %s in release %s %s", asset, repo, release),
		Cause:   &MissingAssetError{Repo: repo, Release: release, Asset: asset},
	}
}
