// Package protocol defines the wire format spoken between relay peers and the relay.
//
// Every WebSocket text frame carries exactly one JSON object with a required "type" key.
// Frames the server emits are decoded with Decode, frames a peer emits with
// DecodeRequest; both directions are encoded with Encode.
//
// Server to peer:
//
//	SERVER_INFO   {apiVersion}
//	HOSTING       {id, name, publicData}
//	UPDATED       {publicData}
//	NEW_CLIENT    {clientID, request}
//	LOST_CLIENT   {clientID}
//	FROM_CLIENT   {clientID, message}
//	LIST          {payload: [publicData...]}
//	JOINED        {host}
//	NO_SUCH_HOST  {request}
//	MESSAGE       {message}
//
// Peer to server:
//
//	HOST          descriptor fields (name, maxClients, anything else)
//	JOIN          criteria (id, name or any descriptor field)
//	JOIN_OR_HOST  JOIN, then HOST with the same payload when nothing matches
//	LIST          no fields
//	SEND          {message, clientIDs?}  clientIDs is a number or an array
//	UPDATE        descriptor fields merged into the public descriptor
//
// Message payloads are opaque: they are carried as json.RawMessage and forwarded
// without being re-encoded.
package protocol
