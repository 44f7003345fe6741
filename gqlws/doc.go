// Package gqlws multiplexes GraphQL operations over one WebSocket connection.
//
// A client runs any number of operations concurrently on a connection, each
// tagged with an id of its choosing. One-shot queries and mutations produce a
// single result. Queries marked @live produce a result now and another each
// time the data they read changes. Subscriptions produce a result per event.
//
// # Message Protocol
//
// All messages are JSON envelopes:
//
//	// Client → Server
//	{"type": "execute", "id": "L1", "payload": {"query": "...", "variables": {}, "operationName": "..."}}
//	{"type": "stop", "id": "L1"}                        // Cancel an operation (unknown ids are ignored)
//	{"type": "pong", "pingId": 1}                        // Heartbeat response
//	{"type": "ping"}                                     // Client heartbeat, answered with pong
//
//	// Server → Client
//	{"type": "result", "id": "L1", "payload": {"data": {...}, "errors": [...]}, "final": false}
//	{"type": "complete", "id": "S1"}                     // Subscription source ended
//	{"type": "error", "id": "X", "code": "AlreadyExists", "error": "msg"}
//	{"type": "ping", "pingId": 1}                        // Heartbeat
//
// One-shot operations answer with exactly one result carrying "final": true,
// after which the id may be reused. Errors in one operation never affect
// another. The execution context of a connection is built from its session
// the first time an operation arrives; if there is no session the operation
// is rejected with FailedPrecondition and the connection stays usable, so a
// later operation succeeds once a session exists. Live and one-shot
// operations follow the same policy.
//
// # Route Registration
//
//	handler := &gqlws.Handler{...}
//	router.HandleFunc("/graphql", gohttp.WSServe(handler, wsConfig))
package gqlws
