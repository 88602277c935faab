package tracking

import "fmt"

// AcquisitionError means no frame could be obtained for a tick.
type AcquisitionError struct {
	Err error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire frame: %v", e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// InferenceError means the engine failed on a frame or returned unusable
// landmarks.
type InferenceError struct {
	FrameSeq uint64
	Err      error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference on frame %d: %v", e.FrameSeq, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// FatalPipelineError stops the loop: the frame source or the engine is gone.
type FatalPipelineError struct {
	Stage string // "acquire" or "infer"
	Err   error
}

func (e *FatalPipelineError) Error() string {
	return fmt.Sprintf("tracking pipeline failed at %s: %v", e.Stage, e.Err)
}

func (e *FatalPipelineError) Unwrap() error { return e.Err }
