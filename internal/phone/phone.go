package phone

import (
	"fmt"

	"github.com/nyaruka/phonenumbers"
)

// Matcher compares phone numbers across formatting variants. The region is
// the ISO country code used to interpret numbers written without a country
// code (e.g. "KR" for Korean national shortcodes).
type Matcher struct {
	region string
}

func NewMatcher(region string) *Matcher {
	return &Matcher{region: region}
}

// Normalize formats a phone number as E.164 for storage.
func (m *Matcher) Normalize(number string) (string, error) {
	parsed, err := phonenumbers.Parse(number, m.region)
	if err != nil {
		return "", fmt.Errorf("parsing phone number %q: %w", number, err)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// SameNumber reports whether two phone numbers identify the same line.
// Exact matches, matches differing only by country code, and short
// national significant number matches all count. Numbers that fail to
// parse fall back to literal string comparison.
func (m *Matcher) SameNumber(a, b string) bool {
	pa, errA := phonenumbers.Parse(a, m.region)
	pb, errB := phonenumbers.Parse(b, m.region)
	if errA != nil || errB != nil {
		return a == b
	}

	switch phonenumbers.IsNumberMatchWithNumbers(pa, pb) {
	case phonenumbers.EXACT_MATCH, phonenumbers.NSN_MATCH, phonenumbers.SHORT_NSN_MATCH:
		return true
	default:
		return false
	}
}
