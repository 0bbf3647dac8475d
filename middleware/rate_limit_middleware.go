package middleware

import (
	"fmt"

	"golang.org/x/time/rate"

	"vaxipc/registry"
)

// RateLimit creates a token-bucket limiter shared across every dispatch
// through this middleware instance: tokens refill at r per second, up
// to burst. A call that finds the bucket empty is rejected without
// reaching the listener. Grounded on BX-D-mini-RPC's
// RateLimitMiddleware; the limiter is built once in the outer closure,
// not per call, or every dispatch would see a fresh full bucket.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next registry.Invoker) registry.Invoker {
		return func(objectID, methodID uint32, args []any, listener registry.Listener) error {
			if !limiter.Allow() {
				return fmt.Errorf("middleware: rate limit exceeded for object %d method %d", objectID, methodID)
			}
			return next(objectID, methodID, args, listener)
		}
	}
}
