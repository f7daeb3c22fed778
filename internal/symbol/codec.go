// Package symbol maps between canonical BASE_QUOTE notation and Bitfinex native symbols.
//
// Native markets are lowercase concatenations with 3-character legs ("btcusd", "drkusd").
// Canonical markets are uppercase and underscore-delimited ("BTC_USD", "DASH_USD").
// Renamed assets are translated through a fixed alias table, per leg, in both directions.
package symbol

import (
	"fmt"
	"strings"
)

// legWidth is the fixed width of a native market leg.
const legWidth = 3

// DefaultAliases maps canonical commodities to their legacy native names.
var DefaultAliases = map[string]string{
	"DASH": "DRK",
}

// Codec formats and unformats market and commodity symbols.
type Codec struct {
	toNative    map[string]string // canonical -> native (uppercase)
	toCanonical map[string]string // native (uppercase) -> canonical
}

// NewCodec builds a codec from a canonical->native alias table.
// A nil table uses DefaultAliases.
func NewCodec(aliases map[string]string) *Codec {
	if aliases == nil {
		aliases = DefaultAliases
	}
	c := &Codec{
		toNative:    make(map[string]string, len(aliases)),
		toCanonical: make(map[string]string, len(aliases)),
	}
	for canonical, native := range aliases {
		canonical = strings.ToUpper(canonical)
		native = strings.ToUpper(native)
		c.toNative[canonical] = native
		c.toCanonical[native] = canonical
	}
	return c
}

// Default is the codec used when callers do not configure their own.
var Default = NewCodec(nil)

// FormatCommodity converts a native currency ("drk", "btc") into canonical form ("DASH", "BTC").
func (c *Codec) FormatCommodity(native string) string {
	up := strings.ToUpper(strings.TrimSpace(native))
	if canonical, ok := c.toCanonical[up]; ok {
		return canonical
	}
	return up
}

// UnformatCommodity converts a canonical commodity ("DASH") into native form ("drk").
func (c *Codec) UnformatCommodity(canonical string) string {
	up := strings.ToUpper(strings.TrimSpace(canonical))
	if native, ok := c.toNative[up]; ok {
		return strings.ToLower(native)
	}
	return strings.ToLower(up)
}

// FormatMarket converts a native market ("drkusd") into canonical form ("DASH_USD").
// An underscore-delimited input is split on the delimiter instead of by width.
func (c *Codec) FormatMarket(native string) string {
	base, quote := split(native)
	return c.FormatCommodity(base) + "_" + c.FormatCommodity(quote)
}

// UnformatMarket converts a canonical market ("DASH_USD") into native form ("drkusd").
// Inputs without a delimiter are split at the fixed leg width.
func (c *Codec) UnformatMarket(canonical string) string {
	base, quote := split(canonical)
	return c.UnformatCommodity(base) + c.UnformatCommodity(quote)
}

// ParseMarket validates a canonical or native market and returns its canonical legs.
func (c *Codec) ParseMarket(market string) (base, quote string, err error) {
	trimmed := strings.TrimSpace(market)
	if !strings.Contains(trimmed, "_") && len(trimmed) != 2*legWidth {
		return "", "", fmt.Errorf("market %q: want %d characters or BASE_QUOTE", market, 2*legWidth)
	}
	b, q := split(trimmed)
	if b == "" || q == "" {
		return "", "", fmt.Errorf("market %q: empty leg", market)
	}
	return c.FormatCommodity(b), c.FormatCommodity(q), nil
}

// Base returns the canonical base commodity of a canonical market.
func (c *Codec) Base(market string) string {
	base, _ := split(market)
	return c.FormatCommodity(base)
}

// Quote returns the canonical quote commodity of a canonical market.
func (c *Codec) Quote(market string) string {
	_, quote := split(market)
	return c.FormatCommodity(quote)
}

func split(market string) (base, quote string) {
	market = strings.TrimSpace(market)
	if i := strings.IndexByte(market, '_'); i >= 0 {
		return market[:i], market[i+1:]
	}
	if len(market) <= legWidth {
		return market, ""
	}
	return market[:legWidth], market[legWidth:]
}

// IsBaseCommodity reports whether a native or canonical commodity is the base leg of a
// canonical market. An empty commodity is never the base.
func (c *Codec) IsBaseCommodity(market, commodity string) bool {
	if strings.TrimSpace(commodity) == "" {
		return false
	}
	return strings.HasPrefix(strings.ToUpper(market), c.FormatCommodity(commodity)+"_")
}
