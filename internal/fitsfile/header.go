package fitsfile

import "strings"

// Card is one keyword record of a FITS header.
type Card struct {
	Key     string
	Value   any
	Comment string
}

// Header is the ordered list of cards of a header/data unit.
type Header struct {
	Cards []Card
}

// IsFreeText reports whether key carries commentary text instead of a value.
func IsFreeText(key string) bool {
	switch strings.ToUpper(strings.TrimSpace(key)) {
	case "", "COMMENT", "HISTORY":
		return true
	default:
		return false
	}
}

// Lookup returns the first card named key, ignoring case.
func (h Header) Lookup(key string) (Card, bool) {
	key = strings.TrimSpace(key)
	for _, card := range h.Cards {
		if strings.EqualFold(card.Key, key) {
			return card, true
		}
	}
	return Card{}, false
}

func (h Header) Has(key string) bool {
	_, ok := h.Lookup(key)
	return ok
}

func (h Header) Len() int {
	return len(h.Cards)
}
