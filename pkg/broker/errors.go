package broker

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrEmpty is returned when no item is available to a non-blocking Get.
	ErrEmpty = errors.New("broker is empty")
	// ErrFull is returned when there is no capacity for a non-blocking Put.
	ErrFull = errors.New("broker is full")
	// ErrTimeout is returned when a blocking wait with a deadline expires.
	ErrTimeout = errors.New("broker wait timed out")
	// ErrTaskDone is returned when TaskDone is called more times than there
	// were items put.
	ErrTaskDone = errors.New("task done called too many times")
)

// IsEmpty reports whether err was caused by ErrEmpty.
func IsEmpty(err error) bool {
	return err != nil && errors.Cause(err) == ErrEmpty
}

// IsFull reports whether err was caused by ErrFull.
func IsFull(err error) bool {
	return err != nil && errors.Cause(err) == ErrFull
}

// IsTimeout reports whether err was caused by ErrTimeout.
func IsTimeout(err error) bool {
	return err != nil && errors.Cause(err) == ErrTimeout
}

// IsUnavailable reports whether err is one of the queue-state errors that a
// retry loop may recover from by waiting.
func IsUnavailable(err error) bool {
	return IsEmpty(err) || IsFull(err) || IsTimeout(err)
}

// IsCanceled reports whether err was caused by a canceled context.
func IsCanceled(err error) bool {
	return err != nil && errors.Cause(err) == context.Canceled
}
