package genimg

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoImage indicates the model finished normally but returned no image
// part at all.
var ErrNoImage = errors.New("genimg: model returned no image")

// BlockedError indicates an explicit safety/content block. Never retried.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string { return fmt.Sprintf("genimg: request blocked: %s", e.Reason) }

// StoppedError indicates the model stopped with a non-STOP finish reason
// before producing an image.
type StoppedError struct {
	FinishReason string
}

func (e *StoppedError) Error() string {
	return fmt.Sprintf("genimg: generation stopped: %s", e.FinishReason)
}

// PermanentError marks an error that will not resolve with retries.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps err as permanent.
func NewPermanentError(err error) *PermanentError { return &PermanentError{Err: err} }

// isSafetyFinish reports whether a candidate finish reason indicates a
// content policy block (SAFETY, IMAGE_SAFETY, PROHIBITED_CONTENT) rather
// than a transient stop.
func isSafetyFinish(reason string) bool {
	r := strings.ToUpper(strings.TrimSpace(reason))
	return strings.Contains(r, "SAFETY") || r == "PROHIBITED_CONTENT"
}

// IsPermanent reports whether err must not be retried: content blocks
// (including safety finish reasons), and errors explicitly marked permanent.
func IsPermanent(err error) bool {
	var bErr *BlockedError
	if errors.As(err, &bErr) {
		return true
	}
	var sErr *StoppedError
	if errors.As(err, &sErr) && isSafetyFinish(sErr.FinishReason) {
		return true
	}
	var pErr *PermanentError
	return errors.As(err, &pErr)
}
