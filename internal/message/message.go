// Package message applies a provider's compiled patterns to raw message
// bodies and derives the accounting extraction from the named fields.
package message

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/jinsol/smsledger/internal/models"
	"github.com/jinsol/smsledger/internal/provider"
	"github.com/shopspring/decimal"
)

// Type of an inbound message. Only SMS for now.
const TypeSMS = "sms"

// Inbound is one received or imported raw message. The provider is
// resolved once at construction time; nil means no active provider
// matched the sender address.
type Inbound struct {
	Type      string
	MessageID string
	Timestamp time.Time
	Address   string
	Body      string
	Provider  *provider.Definition
}

// Extraction is the accounting view of a parsed message.
type Extraction struct {
	Fields   map[string]string
	Amount   decimal.Decimal
	Currency string
	Memo     string
}

// ErrNoAmount means the matched fields carried no usable amount. A
// provider match without an amount is not useful for registration, so the
// message degrades to unparsed.
var ErrNoAmount = errors.New("no usable amount field")

// Parse runs the provider's patterns against the body in declared order
// and returns the named fields of the first match. ok is false when no
// pattern matches.
func Parse(def *provider.Definition, body string) (map[string]string, bool) {
	if def == nil {
		return nil, false
	}
	for _, p := range def.Patterns {
		if fields, ok := p.Match(body); ok {
			return fields, true
		}
	}
	return nil, false
}

// Extract converts parsed fields into the accounting extraction. The
// amount has thousands separators stripped and must parse as a decimal;
// otherwise ErrNoAmount is returned and the caller treats the message as
// unparsed.
func Extract(fields map[string]string, defaultCurrency string) (*Extraction, error) {
	raw, ok := fields[models.FieldAmount]
	if !ok || raw == "" {
		return nil, ErrNoAmount
	}

	amount, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNoAmount, raw)
	}

	currency := fields[models.FieldCurrency]
	if currency == "" {
		currency = defaultCurrency
	}

	memo := fields[models.FieldVendor]
	if memo == "" {
		memo = fields["memo"]
	}

	return &Extraction{
		Fields:   fields,
		Amount:   amount,
		Currency: currency,
		Memo:     memo,
	}, nil
}

// Triage parses an inbound message and produces its extraction, or nil
// when the message is unparsed (no provider, no pattern match, or no
// usable amount). Amount conversion failures are logged at debug level
// and degrade to unparsed rather than propagate.
func Triage(msg *Inbound, defaultCurrency string) *Extraction {
	fields, ok := Parse(msg.Provider, msg.Body)
	if !ok {
		return nil
	}

	ext, err := Extract(fields, defaultCurrency)
	if err != nil {
		log.Printf("Degrading message %s to unparsed: %v", msg.MessageID, err)
		return nil
	}
	return ext
}

// TransactionTime derives the transaction timestamp: the message's
// timestamp, overridden by parsed date and time fragments when present.
// The date fragment is MM/DD with the year taken from the message.
func TransactionTime(msgTime time.Time, fields map[string]string) time.Time {
	t := msgTime

	if date, ok := fields[models.FieldDate]; ok {
		if month, day, err := splitFragment(date, "/"); err == nil {
			t = time.Date(t.Year(), time.Month(month), day, t.Hour(), t.Minute(), 0, 0, t.Location())
		}
	}
	if clock, ok := fields[models.FieldTime]; ok {
		if hour, minute, err := splitFragment(clock, ":"); err == nil {
			t = time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
		}
	}
	return t
}

func splitFragment(s, sep string) (int, int, error) {
	parts := strings.SplitN(s, sep, 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed fragment %q", s)
	}
	first, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	second, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return first, second, nil
}
