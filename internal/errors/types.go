package errors

import "errors"

var (
	ErrPipelineNotFound    = errors.New("pipeline file not found")
	ErrPipelineParseFailed = errors.New("pipeline parsing failed")
	ErrCheckoutFailed      = errors.New("workspace preparation failed")
	ErrStepFailed          = errors.New("build step failed")
	ErrBuildAborted        = errors.New("build aborted")
	ErrRuntimeFailed       = errors.New("runtime operation failed")
	ErrConfigInvalid       = errors.New("configuration invalid")
	ErrNotifyFailed        = errors.New("status notification failed")
	ErrFileSystemFailed    = errors.New("filesystem operation failed")
)

// BuildInfo identifies the build an error happened in.
type BuildInfo struct {
	Job       string
	Number    int
	Container string
}

type StepboxError struct {
	Type        error
	Context     string
	Cause       string
	Suggestion  string
	OriginalErr error
	// Build is nil for errors raised before a build number was claimed.
	Build *BuildInfo
}

func (e *StepboxError) Error() string {
	return e.OriginalErr.Error()
}

func (e *StepboxError) Unwrap() error {
	return e.OriginalErr
}

// Is reports whether target is the kind of e, so errors.Is(err, ErrStepFailed)
// holds for a StepboxError of that type.
func (e *StepboxError) Is(target error) bool {
	return e.Type != nil && e.Type == target
}

// InBuild records the build e happened in and returns e.
func (e *StepboxError) InBuild(info BuildInfo) *StepboxError {
	e.Build = &info
	return e
}

func NewStepboxError(errorType error, context, cause, suggestion string, originalErr error) *StepboxError {
	return &StepboxError{
		Type:        errorType,
		Context:     context,
		Cause:       cause,
		Suggestion:  suggestion,
		OriginalErr: originalErr,
	}
}

func NewPipelineError(context, cause, suggestion string, originalErr error) *StepboxError {
	return NewStepboxError(ErrPipelineNotFound, context, cause, suggestion, originalErr)
}

func NewParseError(context, cause, suggestion string, originalErr error) *StepboxError {
	return NewStepboxError(ErrPipelineParseFailed, context, cause, suggestion, originalErr)
}

func NewCheckoutError(context, cause, suggestion string, originalErr error) *StepboxError {
	return NewStepboxError(ErrCheckoutFailed, context, cause, suggestion, originalErr)
}

func NewStepError(context, cause, suggestion string, originalErr error) *StepboxError {
	return NewStepboxError(ErrStepFailed, context, cause, suggestion, originalErr)
}

func NewAbortError(context, cause, suggestion string, originalErr error) *StepboxError {
	return NewStepboxError(ErrBuildAborted, context, cause, suggestion, originalErr)
}

func NewRuntimeError(context, cause, suggestion string, originalErr error) *StepboxError {
	return NewStepboxError(ErrRuntimeFailed, context, cause, suggestion, originalErr)
}

func NewConfigError(context, cause, suggestion string, originalErr error) *StepboxError {
	return NewStepboxError(ErrConfigInvalid, context, cause, suggestion, originalErr)
}

func NewNotifyError(context, cause, suggestion string, originalErr error) *StepboxError {
	return NewStepboxError(ErrNotifyFailed, context, cause, suggestion, originalErr)
}

func NewFileSystemError(context, cause, suggestion string, originalErr error) *StepboxError {
	return NewStepboxError(ErrFileSystemFailed, context, cause, suggestion, originalErr)
}
