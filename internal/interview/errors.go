package interview

import "errors"

var (
	ErrPermissionDenied  = errors.New("device permission denied")
	ErrPermissionPending = errors.New("device permission not granted yet")
	ErrInvalidState      = errors.New("operation not allowed in current state")
	ErrInterviewEnded    = errors.New("interview ended")
	ErrAnalysisFailed    = errors.New("analysis failed")
	ErrSaveFailed        = errors.New("turn could not be saved")
)
