// Package server hosts the catalogue, streaming, and administrative routes
// behind one HTTP multiplexer.
//
// Every route passes through the same middleware chain of request IDs,
// request logging, metrics, CORS, security headers, and rate limiting so
// handlers share common protections and instrumentation.
package server
