// Package nexus is the client library of the relay.
//
// A Nexus is one WebSocket connection that changes role as it goes. It starts
// as a User, which can list hosts and then either host a session or join one:
//
//	n := nexus.New("ws://localhost:8080")
//
//	joined, err := n.Join(nexus.Name("Pac-Man"))
//	if err != nil {
//		return err
//	}
//	n.OnMessage().On(func(m nexus.Message) {
//		fmt.Println(m.Text())
//	})
//	host, err := joined.Wait(ctx)
//
// Roles:
//   - User: GetHosts, Host, Join, JoinOrHost
//   - Host: Send to all or some clients, Update, GetHosts; ClientIDs tracks the roster
//   - Client: Send to the host
//   - Dead: the relay was never reached; every operation returns ErrDead
//
// A join nothing matches fails with ErrNoSuchHost and turns the connection back
// into a User, so it can try again. Calling an operation the current role does
// not have returns ErrWrongRole.
//
// Results come back as awaitable States (WhenHosting, WhenJoined, ...) and
// repeatable Events (OnMessage, OnNewClient, ...). They are resolved from the
// connection's read goroutine. An event that fires with no listener is logged
// as a warning unless WithIgnoreWarnings is set.
//
// On connect the relay reports its protocol version. A different major
// version is logged as an error and a different minor version as a warning,
// once per relay address until ResetAPIWarnings.
package nexus
