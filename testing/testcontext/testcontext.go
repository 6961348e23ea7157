package testcontext

import (
	"context"

	"github.com/relaydata/dax/o11y"
	"github.com/relaydata/dax/o11y/honeycomb"
)

// ctx is a global singleton, initialised at package time to avoid racy
// initiation of the provider's libhoney client.
var ctx = newContext()

// Background returns a context for use in tests which contains a working
// o11y, so you get logs.
func Background() context.Context {
	return ctx
}

func newContext() context.Context {
	provider := honeycomb.New(honeycomb.Config{
		Format: "json",
	})
	return o11y.WithProvider(context.Background(), provider)
}
