// Package liveness drops relay sockets whose peer stopped answering heartbeats.
//
// Each tick, a target that saw no pong since the previous tick is terminated;
// every other target is pinged and marked as waiting. Termination goes through
// the same teardown path as a peer-initiated close.
package liveness
