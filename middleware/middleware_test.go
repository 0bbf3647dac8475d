package middleware

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vaxipc/registry"
)

func echoListener(args []any) error { return nil }

func slowListener(args []any) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}

func invokeOnce(inv registry.Invoker, l registry.Listener) error {
	return inv(1, 0, nil, l)
}

func TestLogging(t *testing.T) {
	handler := Logging(zerolog.Nop())(registry.Invoker(func(objectID, methodID uint32, args []any, next registry.Listener) error {
		return next(args)
	}))
	if err := invokeOnce(handler, echoListener); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := Timeout(500 * time.Millisecond)(registry.Invoker(func(objectID, methodID uint32, args []any, next registry.Listener) error {
		return next(args)
	}))
	if err := invokeOnce(handler, echoListener); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := Timeout(50 * time.Millisecond)(registry.Invoker(func(objectID, methodID uint32, args []any, next registry.Listener) error {
		return next(args)
	}))
	if err := invokeOnce(handler, slowListener); err == nil {
		t.Fatalf("expected a timeout error")
	}
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(1, 2)(registry.Invoker(func(objectID, methodID uint32, args []any, next registry.Listener) error {
		return next(args)
	}))

	for i := 0; i < 2; i++ {
		if err := invokeOnce(handler, echoListener); err != nil {
			t.Fatalf("request %d should pass, got: %v", i, err)
		}
	}
	if err := invokeOnce(handler, echoListener); err == nil {
		t.Fatalf("third request should have been rate limited")
	}
}

func TestChain(t *testing.T) {
	base := registry.Invoker(func(objectID, methodID uint32, args []any, next registry.Listener) error {
		return next(args)
	})
	chained := Chain(Logging(zerolog.Nop()), Timeout(500*time.Millisecond))(base)
	if err := invokeOnce(chained, echoListener); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
