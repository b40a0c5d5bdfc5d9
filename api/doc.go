// Package api provides the HTTP surface of the relay.
//
// The api package implements:
//   - The WebSocket endpoint peers connect to
//   - A plaintext notice for plain HTTP requests on that endpoint
//   - A read-only status API over the session registry
//
// Endpoints:
//
// Relay:
//   - GET / - WebSocket upgrade, or a plaintext notice
//   - GET /ws - same as /
//
// Status:
//   - GET /api/info - Relay name, protocol version, host and connection counts, uptime
//   - GET /api/hosts - Public descriptors of every hosting session (?name= filters)
//   - GET /api/hosts/{id} - One session with the ids of its joined clients
//
// Response Format:
//
// Status endpoints return JSON. Errors are returned as:
//
//	{"error": "session not found"}
//
// The status API never exposes sockets or lets callers change the registry;
// sessions are only created and removed over the WebSocket protocol.
package api
