// Package patcherr contains the error types returned by the pull request
// processing pipeline and its collaborators.
// Only PatchConflictError is handled locally, all other types abort the
// processing of a pull request. TransientError marks GitHub API failures that
// are repeated by the caller.
package patcherr

import (
	"fmt"
	"time"
)

// AuthorizationError is returned when an installation access token could not
// be created.
type AuthorizationError struct {
	InstallationID int64
	Err            error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorizing installation %d failed: %s", e.InstallationID, e.Err)
}

func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// CloneError is returned when the pull request branch could not be cloned.
type CloneError struct {
	Branch string
	Err    error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("cloning branch %q failed: %s", e.Branch, e.Err)
}

func (e *CloneError) Unwrap() error {
	return e.Err
}

// ConfigError is returned when the project configuration is missing or invalid.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("project configuration: %s", e.Err)
	}

	return fmt.Sprintf("project configuration %s: %s", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// PatchConflictError is returned when a patch does not apply to the working
// tree.
type PatchConflictError struct {
	Patch string
	Err   error
}

func (e *PatchConflictError) Error() string {
	return fmt.Sprintf("applying patch %s failed: %s", e.Patch, e.Err)
}

func (e *PatchConflictError) Unwrap() error {
	return e.Err
}

// PushError is returned when the commits could not be pushed to the pull
// request branch.
type PushError struct {
	Err error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("pushing commits failed: %s", e.Err)
}

func (e *PushError) Unwrap() error {
	return e.Err
}

// TransientError is returned for failures of GitHub API calls that can
// succeed when they are repeated, like server errors or an exceeded rate
// limit.
type TransientError struct {
	Err error
	// NotBefore is when the call can be repeated earliest. The zero value
	// allows an immediate retry.
	NotBefore time.Time
}

// Transient wraps err into a TransientError.
func Transient(err error, notBefore time.Time) *TransientError {
	return &TransientError{Err: err, NotBefore: notBefore}
}

// Wait returns how long to wait from now on until the call may be repeated.
func (e *TransientError) Wait(now time.Time) time.Duration {
	if e.NotBefore.IsZero() || !e.NotBefore.After(now) {
		return 0
	}

	return e.NotBefore.Sub(now)
}

func (e *TransientError) Error() string {
	if e.NotBefore.IsZero() {
		return fmt.Sprintf("transient failure: %s", e.Err)
	}

	return fmt.Sprintf("transient failure, retry possible at %s: %s", e.NotBefore.Format(time.RFC3339), e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}
