// Package price normalizes locale-formatted marketplace price text.
package price

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"
)

// Price is either a known amount in euro or Unavailable.
// The zero value is Unavailable.
type Price struct {
	amount float64
	known  bool
}

// Unavailable marks a listing without a usable numeric price
var Unavailable = Price{}

// Of returns a known price
func Of(amount float64) Price {
	return Price{amount: amount, known: true}
}

// Value returns the amount and whether it is known
func (p Price) Value() (float64, bool) {
	return p.amount, p.known
}

// Available reports whether the price is not the Unavailable sentinel
func (p Price) Available() bool {
	return p.known
}

// Usable reports whether the price takes part in statistics and price-bound
// filtering. A zero amount is never a real price and counts as unusable.
func (p Price) Usable() bool {
	return p.known && p.amount > 0
}

// String formats the amount with two decimals, or "N/D" when unavailable
func (p Price) String() string {
	if !p.known {
		return "N/D"
	}
	return strconv.FormatFloat(p.amount, 'f', 2, 64)
}

// MarshalJSON encodes Unavailable as null
func (p Price) MarshalJSON() ([]byte, error) {
	if !p.known {
		return []byte("null"), nil
	}
	return json.Marshal(p.amount)
}

// UnmarshalJSON decodes null as Unavailable
func (p *Price) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = Unavailable
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Of(v)
	return nil
}

// phrases that stand for "no fixed price": negotiable, swap/trade, free, barter
var unavailablePhrases = []string{
	"trattabile",
	"negotiable",
	"scambio",
	"trade",
	"swap",
	"gratis",
	"free",
	"permuta",
	"baratto",
	"barter",
}

// Normalize converts raw price text such as "€ 1.234,50" into a Price.
func Normalize(raw string) Price {
	cleaned := strings.Map(func(r rune) rune {
		if r == '€' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)

	lower := strings.ToLower(cleaned)
	for _, phrase := range unavailablePhrases {
		if strings.Contains(lower, phrase) {
			return Unavailable
		}
	}

	// "." groups thousands and "," marks decimals
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")

	var b strings.Builder
	for _, r := range cleaned {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return Unavailable
	}

	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return Unavailable
	}
	return Of(v)
}
