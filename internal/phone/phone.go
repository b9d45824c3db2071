// Package phone normalizes phone numbers and infers their country from the
// international dialing prefix.
package phone

import (
	"strings"
)

// Unknown is returned by DetectCountry when no dialing prefix matches.
const Unknown = "Unknown"

// dialingCodes maps international prefixes (without '+') to ISO 3166 alpha-2.
// Lookup is longest-prefix first, so "1" never shadows "1xxx" style entries.
var dialingCodes = map[string]string{
	"1":   "US",
	"7":   "RU",
	"20":  "EG",
	"27":  "ZA",
	"30":  "GR",
	"31":  "NL",
	"32":  "BE",
	"33":  "FR",
	"34":  "ES",
	"36":  "HU",
	"39":  "IT",
	"40":  "RO",
	"41":  "CH",
	"43":  "AT",
	"44":  "GB",
	"45":  "DK",
	"46":  "SE",
	"47":  "NO",
	"48":  "PL",
	"49":  "DE",
	"52":  "MX",
	"54":  "AR",
	"55":  "BR",
	"61":  "AU",
	"64":  "NZ",
	"81":  "JP",
	"82":  "KR",
	"86":  "CN",
	"90":  "TR",
	"91":  "IN",
	"351": "PT",
	"352": "LU",
	"353": "IE",
	"354": "IS",
	"356": "MT",
	"357": "CY",
	"358": "FI",
	"359": "BG",
	"370": "LT",
	"371": "LV",
	"372": "EE",
	"380": "UA",
	"381": "RS",
	"385": "HR",
	"386": "SI",
	"420": "CZ",
	"421": "SK",
	"966": "SA",
	"971": "AE",
	"972": "IL",
}

// maxPrefixLen is the longest key in dialingCodes.
const maxPrefixLen = 3

// Normalize canonicalizes a phone number to "+<digits>" when it carries an
// international prefix ('+' or '00'), or to bare digits otherwise. Input that
// does not look like a phone number is returned unchanged.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')', '/', '\t':
			return -1
		}
		return r
	}, s)

	plus := strings.HasPrefix(s, "+")
	digits := strings.TrimPrefix(s, "+")
	if digits == "" || !allDigits(digits) {
		return raw
	}
	if plus {
		return "+" + digits
	}
	if strings.HasPrefix(digits, "00") && len(digits) > 2 {
		return "+" + digits[2:]
	}
	return digits
}

// DetectCountry returns the ISO country code for an international number, or
// Unknown when the number has no '+' prefix or no table entry matches.
func DetectCountry(raw string) string {
	n := Normalize(raw)
	if !strings.HasPrefix(n, "+") {
		return Unknown
	}
	digits := n[1:]
	for l := min(maxPrefixLen, len(digits)); l > 0; l-- {
		if cc, ok := dialingCodes[digits[:l]]; ok {
			return cc
		}
	}
	return Unknown
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
