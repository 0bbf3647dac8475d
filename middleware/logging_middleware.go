package middleware

import (
	"time"

	"github.com/rs/zerolog"

	"vaxipc/registry"
)

// Logging records the object id, method id, and duration of every
// dispatched call, and the error if the listener (or an inner
// middleware) returned one. Grounded on BX-D-mini-RPC's
// LoggingMiddleware, swapped from log.Printf to a structured
// zerolog.Logger to match the rest of this module's logging.
func Logging(log zerolog.Logger) Middleware {
	return func(next registry.Invoker) registry.Invoker {
		return func(objectID, methodID uint32, args []any, listener registry.Listener) error {
			start := time.Now()
			err := next(objectID, methodID, args, listener)
			ev := log.Debug()
			if err != nil {
				ev = log.Warn().Err(err)
			}
			ev.Uint32("object_id", objectID).
				Uint32("method_id", methodID).
				Dur("duration", time.Since(start)).
				Msg("dispatch")
			return err
		}
	}
}
