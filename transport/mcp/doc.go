// Package mcp provides a Model Context Protocol server for observing a relay.
//
// The mcp package implements:
//   - MCP server for AI agent integration
//   - Read-only tools backed by the relay's status API
//   - Stdio and HTTP transport modes
//
// MCP Tools:
//
// The package exposes the following tools:
//   - server_info: Protocol version, host count, connection count and uptime
//   - list_hosts: Public descriptors of every hosting session, optionally by name
//   - get_host: One session with the ids of its joined clients
//
// The tools never host or join sessions. Peers do that over WebSocket; an
// agent can only look at what is registered.
//
// Transport Modes:
//
//   - Stdio: server.ServeStdio(client.GetMCPServer()) for local MCP clients
//   - HTTP: the relay mounts GetMCPServer().HandleMessage at /mcp
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	if err := server.ServeStdio(client.GetMCPServer()); err != nil {
//		log.Fatal(err)
//	}
package mcp
