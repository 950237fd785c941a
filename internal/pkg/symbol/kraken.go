package symbol

import "strings"

// Kraken spells BTC as XBT on its REST pair names but accepts the plain
// BASE/QUOTE form on the v2 websocket. ToExchange targets the REST side;
// the websocket dialect uses Internal() directly.
type KrakenConverter struct{}

func (KrakenConverter) ToExchange(internal string) string {
	sym := Parse(internal)
	if sym.Base == "" || sym.Quote == "" {
		return ""
	}
	return krakenAsset(sym.Base) + krakenAsset(sym.Quote)
}

func (KrakenConverter) FromExchange(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "/") {
		parts := strings.SplitN(s, "/", 2)
		return fromKrakenAsset(parts[0]) + "/" + fromKrakenAsset(parts[1])
	}
	s = strings.ReplaceAll(s, "XBT", "BTC")
	return Parse(s).Internal()
}

func (KrakenConverter) Format() Format {
	return FormatKraken
}

func krakenAsset(a string) string {
	if a == "BTC" {
		return "XBT"
	}
	return a
}

func fromKrakenAsset(a string) string {
	a = strings.TrimSpace(a)
	if a == "XBT" {
		return "BTC"
	}
	return a
}

var Kraken = KrakenConverter{}
