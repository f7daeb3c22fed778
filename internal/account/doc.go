// Package account syncs account state the stream does not carry in full:
// wallet balances, public tickers, order book snapshots, fee schedules and
// deposit addresses. All values leave this package in canonical symbols.
package account
