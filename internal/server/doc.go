// Package server hosts the media retrieval gateway behind a single HTTP
// multiplexer.
//
// The server builds a consistent middleware chain of request identification,
// logging, metrics, rate limiting, security headers, and CORS so handlers
// all share common protections and instrumentation.
package server
