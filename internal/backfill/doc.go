// Package backfill pages the account's trade and movement history backward in
// time and merges it into the store.
//
// Each run starts a cursor at the current time and fetches pages newest-first.
// A page is applied in one transaction; records already stored under their
// external key are skipped. The cursor moves to the oldest newly inserted
// record and never forward, so a run ends once a page adds nothing new.
// Replaying a run is a no-op past the frontier.
package backfill
