package error

import "errors"

var (
	ErrNotAvailable      = errors.New("statement not available")
	ErrParseFailed       = errors.New("source could not be parsed")
	ErrSessionClosed     = errors.New("inspector session is closed")
	ErrMalformedResponse = errors.New("malformed inspector response")
	ErrEngineNotAttached = errors.New("capture engine is not attached")
	ErrEngineAttached    = errors.New("capture engine is already attached")
	ErrCaptureTimeout    = errors.New("capture timed out")
	ErrNoExceptionValue  = errors.New("paused event carries no exception value")
	ErrNoCallFrames      = errors.New("paused event carries no call frames")
)
