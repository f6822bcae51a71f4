package source

import (
	"errors"
	"fmt"
)

// ErrStale reports that a newer resolution superseded this one. The
// caller discards the result; nothing is wrong with the workspace.
var ErrStale = errors.New("source: resolution superseded")

// Message keys for recoverable, user-visible resolution outcomes. The
// i18n catalog localizes them.
const (
	MsgFetchFailed      = "source.fetch_failed"
	MsgInvalidScene     = "source.invalid_scene"
	MsgSessionUnreached = "collab.disconnected"
)

// Code classifies recoverable resolution failures.
type Code int

const (
	CodeFetchFailed Code = iota
	CodeInvalidPayload
)

func (c Code) String() string {
	switch c {
	case CodeFetchFailed:
		return "fetch-failed"
	case CodeInvalidPayload:
		return "invalid-payload"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// ResolutionError is a recoverable failure while materializing an
// external source. Resolve converts it into a fallback document plus a
// user-visible message; it never aborts the workspace.
type ResolutionError struct {
	Code Code
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("source: %s: %v", e.Code, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// MessageKey maps the failure onto its catalog entry.
func (e *ResolutionError) MessageKey() string {
	if e.Code == CodeInvalidPayload {
		return MsgInvalidScene
	}
	return MsgFetchFailed
}
