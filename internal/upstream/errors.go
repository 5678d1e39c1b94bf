package upstream

import "fmt"

// ConnectionError reports a failed or timed-out transport-level connect.
// Fatal to the session: surfaced to the client and never retried mid-session.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("upstream: connect: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SetupError reports that the upstream never acknowledged the setup message
// within the setup timeout. Fatal to the session.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("upstream: setup: %v", e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// ToolArgumentError reports malformed arguments on a model tool call. Always
// recovered locally with a safe default; never propagated to the client.
type ToolArgumentError struct {
	Tool string
	Err  error
}

func (e *ToolArgumentError) Error() string {
	return fmt.Sprintf("upstream: tool %q arguments: %v", e.Tool, e.Err)
}

func (e *ToolArgumentError) Unwrap() error { return e.Err }
