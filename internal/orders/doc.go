// Package orders manages the local lifecycle of limit orders.
//
// Orders move pending -> open -> closed. A pending order exists only locally.
// It becomes open once the exchange accepts it and stores its external id.
// closed is terminal. The exchange is the source of truth for what is live:
// ReconcileOpenOrders closes local open orders missing from its snapshot and
// records live orders placed elsewhere.
package orders
