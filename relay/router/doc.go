// Package router implements the per-connection role state machine of the relay.
//
// Every accepted socket is greeted with SERVER_INFO and starts as a Visitor. A
// Visitor may LIST hosts, HOST a session or JOIN one; HOST and a successful JOIN
// move the connection to the Host or Client role for the rest of its life.
//
// Roles:
//   - Visitor: LIST, HOST, JOIN, JOIN_OR_HOST
//   - Host: SEND to all or some clients, UPDATE the public descriptor, LIST
//   - Client: every frame is wrapped in FROM_CLIENT and handed to the host
//
// When a host goes away its session leaves the registry and each of its clients
// is closed with 1001 "Host was closed". When a client goes away its host gets
// LOST_CLIENT.
//
// A Connection is driven by a single goroutine. Frames the current role cannot
// use are logged and counted, and the socket stays open.
package router
