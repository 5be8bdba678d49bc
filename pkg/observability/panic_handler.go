package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with structured logging.
// Call in a defer statement. After logging, the panic is NOT re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// RecoverPanicWithCallback recovers from a panic, logs it, and executes a
// callback for cleanup (closing channels, releasing locks).
func RecoverPanicWithCallback(logger *Logger, context string, callback func()) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
		if callback != nil {
			callback()
		}
	}
}

// MustRecover converts a recovered panic value to an error. Returns nil when
// r is nil.
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
