// Package apn implements the registration priority key codec.
//
// An APN is a fixed-point decimal with exactly two fractional digits. The
// integer part is a day-count serial (days since the legacy epoch 1899-12-30,
// so keys survive migration from the system being replaced bit-for-bit) and
// the fractional part is the intra-day registration ordinal, 0..99. Lower
// keys dispatch first. Duplicate keys across members are a valid state; ties
// are broken by registration insertion order, never by the codec.
package apn

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Epoch is day zero of the serial date component.
var Epoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

const (
	// MaxOrdinal caps same-day registrations per book: two fractional
	// digits leave room for ordinals 0..99.
	MaxOrdinal = 99
)

// Key is an APN priority key. The zero value is not a valid key; use Encode
// or Parse. Key embeds decimal.Decimal so it scans from and writes to
// NUMERIC columns directly.
type Key struct {
	decimal.Decimal
}

// Encode builds the key for a registration made on date with the given
// intra-day ordinal. Only the calendar date of date is significant.
func Encode(date time.Time, ordinal int) (Key, error) {
	if ordinal < 0 || ordinal > MaxOrdinal {
		return Key{}, fmt.Errorf("apn ordinal %d out of range 0..%d", ordinal, MaxOrdinal)
	}
	days := serialDays(date)
	if days < 0 {
		return Key{}, fmt.Errorf("apn date %s predates epoch %s", date.Format("2006-01-02"), Epoch.Format("2006-01-02"))
	}
	return Key{decimal.New(int64(days)*100+int64(ordinal), -2)}, nil
}

// Parse reads a key from its canonical "45880.41" form.
func Parse(s string) (Key, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Key{}, fmt.Errorf("invalid apn %q: %w", s, err)
	}
	if d.Exponent() < -2 {
		return Key{}, fmt.Errorf("invalid apn %q: more than two fractional digits", s)
	}
	if d.IsNegative() {
		return Key{}, fmt.Errorf("invalid apn %q: negative", s)
	}
	return Key{d}, nil
}

// MustParse is Parse for fixtures; it panics on malformed input.
func MustParse(s string) Key {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Decode returns the registration date and intra-day ordinal of the key.
func (k Key) Decode() (time.Time, int) {
	cents := k.Shift(2).IntPart()
	days := cents / 100
	ordinal := int(cents % 100)
	return Epoch.AddDate(0, 0, int(days)), ordinal
}

// Date returns the registration date encoded in the key.
func (k Key) Date() time.Time {
	d, _ := k.Decode()
	return d
}

// Ordinal returns the intra-day component of the key.
func (k Key) Ordinal() int {
	_, n := k.Decode()
	return n
}

// Compare orders keys ascending: earlier registration date first, then lower
// intra-day ordinal. Returns -1, 0 or 1.
func Compare(a, b Key) int {
	return a.Cmp(b.Decimal)
}

// Less reports whether k dispatches ahead of other.
func (k Key) Less(other Key) bool {
	return Compare(k, other) < 0
}

// String renders the canonical two-fraction-digit form, e.g. "45880.41".
func (k Key) String() string {
	return k.StringFixed(2)
}

// MarshalJSON emits the canonical form as a JSON string so the fractional
// digits are never reinterpreted as float precision.
func (k Key) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.StringFixed(2) + `"`), nil
}

// UnmarshalJSON accepts both "45880.41" and a bare number.
func (k *Key) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func serialDays(date time.Time) int {
	y, m, d := date.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(midnight.Sub(Epoch).Hours() / 24)
}
