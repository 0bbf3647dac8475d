// Package middleware implements the onion-model chain BX-D-mini-RPC's
// middleware package wraps around its HTTP-shaped RPC handler, adapted
// here to wrap registry.Registry's dispatch-to-listener call instead:
// cross-cutting concerns (logging, rate limiting, timeouts) compose
// around a method invocation without the Instance's listener knowing
// anything about them.
//
// Onion model execution order:
//
//	Chain(A, B, C)(next)  →  A(B(C(next)))
//
//	Dispatch:  A.before → B.before → C.before → listener
//	Return:    listener → C.after → B.after → A.after
package middleware

import "vaxipc/registry"

// Middleware takes the next Invoker in the chain and returns a new one
// wrapping it — the same decorator shape as BX-D-mini-RPC's
// middleware.Middleware, generalized from HandlerFunc to
// registry.Invoker.
type Middleware func(next registry.Invoker) registry.Invoker

// Chain composes middlewares into one, built right to left so the first
// middleware in the list is the outermost layer: executed first on
// dispatch, last on return.
func Chain(middlewares ...Middleware) Middleware {
	return func(next registry.Invoker) registry.Invoker {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
