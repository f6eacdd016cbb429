// Package safety provides panic-recovery wrappers for the goroutines the
// hub spawns per socket and per outbound send, grounded on the teacher's
// SafeExecute/SafeGo helpers.
package safety

import (
	"fmt"
	"runtime/debug"

	"github.com/datex-network/datex-hub/observability"
)

// Result reports whether an operation panicked and, if so, the recovered
// value and stack trace.
type Result struct {
	Panicked bool
	Recovered any
	Stack     string
}

// Execute runs fn, recovering any panic and reporting it through logger
// instead of letting it escape.
func Execute(logger observability.Logger, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			logger.Error("panic recovered", "operation", operation, "panic", r, "stack", stack)
			err = fmt.Errorf("safety: %s panicked: %v", operation, r)
		}
	}()
	return fn()
}

// Go runs fn in a new goroutine, recovering panics and invoking onPanic
// (if non-nil) with the recovered value instead of crashing the process.
func Go(logger observability.Logger, operation string, fn func(), onPanic func(any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("panic recovered in goroutine", "operation", operation, "panic", r, "stack", stack)
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
