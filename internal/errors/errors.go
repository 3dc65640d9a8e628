package errors

import "errors"

var (
	ErrSettingsInvalid     = errors.New("runner settings invalid")
	ErrConfigFetchFailed   = errors.New("job config fetch failed")
	ErrConfigInvalid       = errors.New("job config invalid")
	ErrBootstrapMissing    = errors.New("bootstrap script missing")
	ErrBootstrapFailed     = errors.New("bootstrap script failed")
	ErrImagePullFailed     = errors.New("image pull failed")
	ErrWorkloadStartFailed = errors.New("workload start failed")
	ErrRuntimeFailed       = errors.New("runtime operation failed")
	ErrNetworkFailed       = errors.New("network operation failed")
	ErrFileSystemFailed    = errors.New("filesystem operation failed")
)

// Exit codes reported by the jobrunner binary.
const (
	ExitOK       = 0
	ExitFatal    = 1
	ExitSettings = 2
)

type RunnerError struct {
	Type        error
	Context     string
	Cause       string
	Suggestion  string
	OriginalErr error
}

func (e *RunnerError) Error() string {
	if e.OriginalErr == nil {
		return e.Cause
	}
	return e.OriginalErr.Error()
}

func (e *RunnerError) Unwrap() error {
	return e.OriginalErr
}

// Is reports whether target is the error's type sentinel, so callers can
// write errors.Is(err, ErrBootstrapMissing).
func (e *RunnerError) Is(target error) bool {
	return e.Type == target
}

func NewRunnerError(errorType error, context, cause, suggestion string, originalErr error) *RunnerError {
	return &RunnerError{
		Type:        errorType,
		Context:     context,
		Cause:       cause,
		Suggestion:  suggestion,
		OriginalErr: originalErr,
	}
}

func NewSettingsError(context, cause, suggestion string, originalErr error) *RunnerError {
	return NewRunnerError(ErrSettingsInvalid, context, cause, suggestion, originalErr)
}

func NewConfigFetchError(context, cause, suggestion string, originalErr error) *RunnerError {
	return NewRunnerError(ErrConfigFetchFailed, context, cause, suggestion, originalErr)
}

func NewConfigError(context, cause, suggestion string, originalErr error) *RunnerError {
	return NewRunnerError(ErrConfigInvalid, context, cause, suggestion, originalErr)
}

func NewBootstrapMissingError(context, cause, suggestion string, originalErr error) *RunnerError {
	return NewRunnerError(ErrBootstrapMissing, context, cause, suggestion, originalErr)
}

func NewBootstrapError(context, cause, suggestion string, originalErr error) *RunnerError {
	return NewRunnerError(ErrBootstrapFailed, context, cause, suggestion, originalErr)
}

func NewImagePullError(context, cause, suggestion string, originalErr error) *RunnerError {
	return NewRunnerError(ErrImagePullFailed, context, cause, suggestion, originalErr)
}

func NewWorkloadStartError(context, cause, suggestion string, originalErr error) *RunnerError {
	return NewRunnerError(ErrWorkloadStartFailed, context, cause, suggestion, originalErr)
}

func NewRuntimeError(context, cause, suggestion string, originalErr error) *RunnerError {
	return NewRunnerError(ErrRuntimeFailed, context, cause, suggestion, originalErr)
}

func NewNetworkError(context, cause, suggestion string, originalErr error) *RunnerError {
	return NewRunnerError(ErrNetworkFailed, context, cause, suggestion, originalErr)
}

func NewFileSystemError(context, cause, suggestion string, originalErr error) *RunnerError {
	return NewRunnerError(ErrFileSystemFailed, context, cause, suggestion, originalErr)
}

// ExitCode maps a run outcome to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, ErrSettingsInvalid) {
		return ExitSettings
	}
	return ExitFatal
}
