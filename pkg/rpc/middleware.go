package rpc

import (
	"context"
	"encoding/json"
)

// Request is an inbound call as seen by server handlers and middleware.
type Request struct {
	Method string
	Params json.RawMessage
}

type Handler func(context.Context, *Request) (any, error)
type Middleware func(context.Context, *Request, Handler) (any, error)

func buildHandlerFunction(middleware []Middleware, final Handler) Handler {

	// apply middleware from first registered down

	// start with the final handler
	chain := final

	// loop backwards through the middleware slice
	for i := len(middleware) - 1; i >= 0; i-- {
		// capture the current middleware handler
		m := middleware[i]

		// wrap the current chain with the current middleware
		next := chain
		chain = func(ctx context.Context, req *Request) (any, error) {
			return m(ctx, req, next)
		}
	}

	// return the fully chained handler
	return chain
}

func ApplyHandlerChain(ctx context.Context, req *Request, middleware []Middleware, final Handler) (any, error) {
	fn := buildHandlerFunction(middleware, final)
	return fn(ctx, req)
}
