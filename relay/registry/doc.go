// Package registry keeps the hosting sessions of a relay and the clients joined to each.
//
// Sessions are kept in registration order and clients in join order, both in ordered
// maps, so lookups by id and ordered scans are both cheap. Host ids come from a
// registry-wide counter starting at 1 and client ids from a per-session counter
// starting at 1; neither is ever reused.
//
// FindHost implements the join matching rule: the first session whose public
// descriptor agrees with every criteria key it also carries, and which is below its
// maxClients limit, wins.
//
// The registry is safe for concurrent use. The relay mutates it from its event loop
// while the status API reads it from HTTP handlers.
package registry
