// Package awaitable provides the two notification primitives of the nexus client.
//
// An Event fires any number of times. Listeners added with On stay until they
// are removed; listeners added with Once are dropped just before the next
// trigger fires. When an Event fires with nobody listening, its missed hook
// runs instead, which is how the client reports callbacks nobody registered.
//
// A State resolves once, with a value or an error. Listeners added after the
// State resolved are called right away with the outcome.
//
// Both types are safe for concurrent use. Listeners run on the goroutine that
// triggers or resolves, after every lock is released.
package awaitable
