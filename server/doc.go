// Package server assembles a complete relay process from its parts.
//
// A Server owns one session registry and one websocket hub, and exposes them
// on a single HTTP listener:
//
//	/            WebSocket relay endpoint; plain requests get a short notice
//	/ws          same relay endpoint
//	/api/...     read-only status API
//	/mcp         MCP JSON-RPC endpoint over the status API
//
// When the configuration names a metrics port, an OpenTelemetry meter backed
// by a Prometheus exporter is served there as well.
//
// Lifecycle:
//
//	srv, err := server.New(cfg)
//	if err != nil { ... }
//	err = srv.Serve(ctx) // blocks until ctx is done
//
// Start and Wait split Serve in two for callers that need the bound address
// first, such as tests that listen on port 0. Shutting down closes every
// socket with code 1001 before the HTTP servers stop.
//
// TLS is enabled by setting both a certificate and a key file. A listener
// passed with WithListener, such as an ngrok tunnel, is used as is.
package server
