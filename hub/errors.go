package hub

import (
	"fmt"

	"github.com/datex-network/datex-hub/endpoint"
)

// ResponseErrorKind discriminates why a particular receiver's response
// entry in an await-response result is not a successful Response.
type ResponseErrorKind uint8

const (
	ResponseNotReachable ResponseErrorKind = iota
	ResponseNoResponseAfterTimeout
	ResponseEarlyAbort
)

// ResponseError reports a per-endpoint await-response failure.
type ResponseError struct {
	Kind     ResponseErrorKind
	Endpoint endpoint.Endpoint
}

func (e *ResponseError) Error() string {
	switch e.Kind {
	case ResponseNotReachable:
		return fmt.Sprintf("hub: %s not reachable", e.Endpoint)
	case ResponseNoResponseAfterTimeout:
		return fmt.Sprintf("hub: %s did not respond before timeout", e.Endpoint)
	case ResponseEarlyAbort:
		return fmt.Sprintf("hub: %s response aborted early", e.Endpoint)
	default:
		return "hub: response error"
	}
}

// UnreachableError reports receivers the router produced no socket for.
type UnreachableError struct {
	Endpoints []endpoint.Endpoint
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("hub: %d endpoint(s) unreachable", len(e.Endpoints))
}

// InvalidBlockError wraps a validation or decode failure that caused a
// block to be dropped.
type InvalidBlockError struct {
	Cause error
}

func (e *InvalidBlockError) Error() string { return fmt.Sprintf("hub: invalid block: %v", e.Cause) }
func (e *InvalidBlockError) Unwrap() error { return e.Cause }

// SignatureError wraps any failure during signing or verification.
type SignatureError struct {
	Cause error
}

func (e *SignatureError) Error() string { return fmt.Sprintf("hub: signature error: %v", e.Cause) }
func (e *SignatureError) Unwrap() error { return e.Cause }

// ShutdownError aggregates every error encountered while tearing down the
// hub's interfaces, grounded on the teacher's kernel ShutdownError.
type ShutdownError struct {
	Errors []error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("hub: %d error(s) during shutdown: %v", len(e.Errors), e.Errors)
}

func (e *ShutdownError) Unwrap() []error { return e.Errors }
