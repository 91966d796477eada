// Package video runs uploaded recordings through the driver metrics at a
// fixed sampling rate.
package video

import "errors"

var (
	// ErrInvalidFormat covers unsupported containers, codecs and unreadable
	// files.
	ErrInvalidFormat = errors.New("invalid video format")
	// ErrDurationExceeded is returned for recordings above the length limit.
	ErrDurationExceeded = errors.New("video duration exceeds limit")
	// ErrTooLarge is returned for uploads above the size limit.
	ErrTooLarge = errors.New("video too large")
	// ErrNoFramesProcessed is returned when no frame could be processed.
	ErrNoFramesProcessed = errors.New("no frames could be processed")
	// ErrProcessingFailed wraps unexpected decode and analysis failures.
	ErrProcessingFailed = errors.New("video processing failed")
	// ErrProcessingTimedOut is returned when the job exceeded its deadline.
	ErrProcessingTimedOut = errors.New("video processing timed out")
	// ErrBusy is returned when no worker slot freed up before the job
	// deadline.
	ErrBusy = errors.New("video workers busy")
)
