package siteops

import (
	"errors"
	"fmt"
)

// Sentinel errors for orchestrator preconditions.
var (
	ErrNotUnderSourceRoot     = errors.New("siteops: path is not under the workspace source root")
	ErrUnsupportedOnDirectory = errors.New("siteops: operation works on single files only")
	ErrNoRemoteFolders        = errors.New("siteops: remote_folders is not configured for this workspace")
	ErrNoPublishOptions       = errors.New("siteops: publish options are not configured for this workspace")
)

// RemoteOperationError wraps a gateway failure with the operation and the
// target it was working on.
type RemoteOperationError struct {
	Op     string
	Target string
	Err    error
}

func (e *RemoteOperationError) Error() string {
	return fmt.Sprintf("siteops: %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *RemoteOperationError) Unwrap() error {
	return e.Err
}

func remoteErr(op, target string, err error) error {
	if err == nil {
		return nil
	}

	return &RemoteOperationError{Op: op, Target: target, Err: err}
}

// reportedError marks an error the orchestrator already delivered to the
// Notifier.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// IsReported reports whether err was already shown to the user through the
// Notifier, so the caller should not print it again.
func IsReported(err error) bool {
	var r *reportedError
	return errors.As(err, &r)
}
