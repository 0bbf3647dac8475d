package middleware

import (
	"context"
	"fmt"
	"time"

	"vaxipc/registry"
)

// Timeout bounds how long a single dispatch may run. The listener call
// runs in a goroutine raced against the timeout; if the timeout wins,
// this returns an error but the goroutine is not cancelled — same
// tradeoff as BX-D-mini-RPC's TimeOutMiddleware. Since Dispatch treats
// any error here as fatal for the session (spec §4.5), a listener that
// later finishes after its own timeout has no session left to reply on.
func Timeout(timeout time.Duration) Middleware {
	return func(next registry.Invoker) registry.Invoker {
		return func(objectID, methodID uint32, args []any, listener registry.Listener) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- next(objectID, methodID, args, listener)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return fmt.Errorf("middleware: dispatch for object %d method %d timed out after %s", objectID, methodID, timeout)
			}
		}
	}
}
