// Package websocket provides the WebSocket transport of the relay.
//
// Architecture:
//
// The package uses a hub-and-spoke model. A central Hub owns every socket and
// runs one event loop (Run) that receives three kinds of events: a socket was
// accepted, a frame arrived, a socket went away. Each event is handed to the
// socket's router.Connection in that one goroutine, so a frame is an atomic
// step against the session registry and the frames of one socket are handled
// in arrival order.
//
// Each socket has two goroutines that only move bytes:
//   - readPump reads frames and posts them to the hub
//   - writePump drains the socket's outbound queue
//
// Closing:
//
// Conn.Close queues a close frame behind any pending frames and drops the
// transport if the peer does not answer within a short grace period. Closing a
// socket that is already closing does nothing. Conn.Terminate drops the
// transport immediately; the liveness monitor uses it for peers that stopped
// answering pings.
//
// Usage:
//
//	reg := registry.New()
//	hub := websocket.NewHub(reg, websocket.WithPingInterval(15*time.Second))
//	go hub.Run(ctx)
//
//	http.HandleFunc("/", hub.ServeWS)
//
// Cancelling the context passed to Run closes every socket with code 1001.
package websocket
