package drive

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

var (
	ErrUnauthorized = errors.New("drive: unauthorised (invalid credentials)")
	ErrForbidden    = errors.New("drive: forbidden (insufficient permissions)")
	ErrNotFound     = errors.New("drive: resource not found")
	ErrRateLimited  = errors.New("drive: rate limit exceeded")

	// ErrNoToken means no usable OAuth token is cached; run `memoryagent drive auth`.
	ErrNoToken = errors.New("drive: no cached token")
)

// Stage names the relocation step that failed.
type Stage string

const (
	StageDownload Stage = "download"
	StageFolder   Stage = "folder"
	StageUpload   Stage = "upload"
)

// RelocationError is returned by Relocator.Relocate for any failure.
type RelocationError struct {
	Stage Stage
	Err   error
}

func (e *RelocationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *RelocationError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &RelocationError{Stage: stage, Err: err}
}

// IsUnauthorized returns true if the error indicates invalid credentials.
func IsUnauthorized(err error) bool {
	if errors.Is(err, ErrUnauthorized) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusUnauthorized
	}
	return false
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests
	}
	return false
}

// WrapError converts a Google API error to one of the package sentinels,
// keeping the API message.
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}

	var sentinel error
	switch gerr.Code {
	case http.StatusUnauthorized:
		sentinel = ErrUnauthorized
	case http.StatusForbidden:
		sentinel = ErrForbidden
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	default:
		return err
	}
	if gerr.Message == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, gerr.Message)
}
