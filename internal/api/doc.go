// Package api provides the Bitfinex v1 REST client.
//
// Authenticated endpoints are POSTs carrying a base64 JSON payload in X-BFX-PAYLOAD and
// its HMAC-SHA384 in X-BFX-SIGNATURE (see package auth). Public endpoints are plain GETs.
//
// REST endpoint:
//   - Production: https://api.bitfinex.com/v1
//
// Signed: balances, orders, order/new, order/cancel, order/cancel/all, mytrades,
// history/movements, account_infos, deposit/new.
// Public: pubticker/{symbol}, book/{symbol}, symbols.
//
// Failures are typed: *TransportError when the exchange could not be reached,
// *APIError when it answered with a rejection, *DecodeError when the body is unreadable.
// Nothing is retried except a signed call rejected for a stale nonce.
package api
