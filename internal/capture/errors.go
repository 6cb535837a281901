package capture

import "errors"

var (
	// ErrNoFrameAvailable is returned when a capture fires before any frame was ingested
	ErrNoFrameAvailable = errors.New("no frame available")

	// ErrAlreadyCapturing is returned by RequestCapture while another request is armed
	ErrAlreadyCapturing = errors.New("capture already pending")

	// ErrConversion covers invalid plane layouts and encode/decode failures
	ErrConversion = errors.New("frame conversion failed")

	// ErrIO covers artifact write, read and delete failures
	ErrIO = errors.New("artifact I/O failed")

	// ErrCaptureTimeout is returned when no frame arrives within Options.Timeout
	ErrCaptureTimeout = errors.New("capture timed out waiting for a frame")

	// ErrClosed is returned once the capturer has been closed
	ErrClosed = errors.New("capturer closed")
)
