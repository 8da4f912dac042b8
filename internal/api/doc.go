// Package api hosts the HTTP handlers that front the media retrieval
// gateway.
//
// The handlers assembled by Handler coordinate request validation and
// response shaping while delegating retrieval to the proxy.Gateway and
// aggregation to the aggregate packages injected at construction time. The
// package does not reach for globals or singletons and expects callers to
// supply fully configured dependencies.
//
// Handler implementations assume upstream middleware from internal/server
// has already enforced request identification, rate limiting, metrics, and
// logging concerns. New routes should preserve that contract by leaning on
// the middleware guarantees established in the server stack.
package api
