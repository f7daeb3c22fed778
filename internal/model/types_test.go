package model

import "testing"

func TestSide(t *testing.T) {
	tests := []struct {
		side Side
		want string
	}{
		{SideBid, "buy"},
		{SideAsk, "sell"},
	}
	for _, tt := range tests {
		if got := tt.side.ExchangeSide(); got != tt.want {
			t.Errorf("%s.ExchangeSide() = %q, want %q", tt.side, got, tt.want)
		}
		if back := SideFromExchange(tt.want); back != tt.side {
			t.Errorf("SideFromExchange(%q) = %q, want %q", tt.want, back, tt.side)
		}
	}

	if Side("both").Valid() {
		t.Error("expected unknown side to be invalid")
	}
	if SideFromExchange("SELL") != SideAsk {
		t.Error("SideFromExchange should be case-insensitive")
	}
}

func TestNormalizeOrderID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"12345", "12345"},
		{"bitfinex|12345", "12345"},
		{"tmp|12345", "12345"},
		{" 42 ", "42"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeOrderID(tt.in); got != tt.want {
			t.Errorf("NormalizeOrderID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := NamespacedID("tmp|7"); got != "bitfinex|7" {
		t.Errorf("NamespacedID = %q, want bitfinex|7", got)
	}
}
