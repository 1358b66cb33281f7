package phone

import (
	"errors"
	"strings"
)

var ErrInvalidNumber = errors.New("invalid phone number")

// Plan describes a national numbering plan whose mobile numbers carry a
// fixed leading digit.
type Plan struct {
	CountryCode      string
	AreaDigits       int
	SubscriberDigits int
	MobilePrefix     byte
}

// Brazil: +55, two digit area code, nine digit mobile numbers starting with 9.
var Brazil = Plan{
	CountryCode:      "55",
	AreaDigits:       2,
	SubscriberDigits: 9,
	MobilePrefix:     '9',
}

// Length is the size of a fully normalized number.
func (p Plan) Length() int {
	return len(p.CountryCode) + p.AreaDigits + p.SubscriberDigits
}

// Normalize turns a ledger phone cell into country code + area + subscriber
// digits. Numbers that cannot reach Length digits are rejected.
func (p Plan) Normalize(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	// Trunk prefix 0 and international 00.
	digits = strings.TrimLeft(digits, "0")

	national := p.AreaDigits + p.SubscriberDigits
	if len(digits) == national || len(digits) == national-1 {
		digits = p.CountryCode + digits
	}

	prefixAt := len(p.CountryCode) + p.AreaDigits
	if len(digits) == p.Length()-1 && strings.HasPrefix(digits, p.CountryCode) {
		digits = digits[:prefixAt] + string(p.MobilePrefix) + digits[prefixAt:]
	}

	if len(digits) != p.Length() || !strings.HasPrefix(digits, p.CountryCode) {
		return "", ErrInvalidNumber
	}
	if digits[prefixAt] != p.MobilePrefix {
		return "", ErrInvalidNumber
	}
	return digits, nil
}

// Normalize applies the Brazil plan.
func Normalize(raw string) (string, error) {
	return Brazil.Normalize(raw)
}
