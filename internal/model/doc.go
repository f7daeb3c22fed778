// Package model defines the exchange-agnostic records reconciled into the local store.
//
// Conventions:
//   - Markets: canonical BASE_QUOTE uppercase pairs (e.g. "BTC_USD")
//   - Commodities: canonical uppercase symbols (e.g. "DASH", never the native "DRK")
//   - Amounts and prices: decimal.Decimal, never float64
//   - External keys: bare exchange identifiers, unique within (exchange, kind)
package model
