// Package connection owns the exchange websocket.
//
// A Client wraps one gorilla websocket with a read loop, serialized writes and
// keepalive. A Session drives Clients through
// disconnected -> connecting -> subscribing -> ready, subscribing the ticker
// channel for every active market and authenticating the account channel on
// each new connection, and reconnects with exponential backoff when the
// connection fails or a consumer asks for a restart.
//
// Every connection gets a new generation number. Frames are forwarded as
// RawMessage tagged with that generation so consumers can discard channel
// bindings that belong to an earlier connection.
package connection
