package observability

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with its stack. It must be
// called directly in a defer statement. The panic is not re-raised.
//
//	go func() {
//	    defer observability.RecoverPanic(logger, "audit flush")
//	    ...
//	}()
func RecoverPanic(logger logrus.FieldLogger, where string) {
	if r := recover(); r != nil {
		logger.WithFields(logrus.Fields{
			"panic":   r,
			"stack":   string(debug.Stack()),
			"context": where,
		}).Error("PANIC recovered")
	}
}

// PanicError converts a recovered value into an error, or nil when r is nil
//
//	defer func() {
//	    if perr := observability.PanicError(recover()); perr != nil {
//	        err = perr
//	    }
//	}()
func PanicError(r interface{}) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
