// Package writer applies decoded stream events to the store.
//
// The Reconciler consumes the router's event buffer on a single goroutine so
// frames are applied in arrival order. Each frame is one transaction:
//   - ticker frames upsert the market snapshot
//   - wallet frames set the total of every exchange wallet
//   - trade frames insert fills not yet known by trade id
//   - order frames insert or refresh orders by external id, never reopening a closed one
//
// A frame whose records change nothing is rolled back instead of committed. A
// failed commit is logged and counted; the frame is dropped and the next one
// is processed.
package writer
