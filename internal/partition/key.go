// Package partition models the logical unit of incremental work: a single
// day or an inclusive range of days.
package partition

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"
	rangeSep   = ".."
)

// Key is an immutable partition key. The zero value is "no partition".
type Key struct {
	start time.Time
	end   time.Time
}

// Parse accepts "YYYY-MM-DD" or "YYYY-MM-DD..YYYY-MM-DD".
func Parse(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Key{}, fmt.Errorf("partition key is empty")
	}

	first, last, isRange := strings.Cut(s, rangeSep)
	start, err := time.Parse(dateLayout, first)
	if err != nil {
		return Key{}, fmt.Errorf("invalid partition key %q: %w", s, err)
	}
	if !isRange {
		return Key{start: start, end: start}, nil
	}

	end, err := time.Parse(dateLayout, last)
	if err != nil {
		return Key{}, fmt.Errorf("invalid partition key %q: %w", s, err)
	}
	if end.Before(start) {
		return Key{}, fmt.Errorf("invalid partition key %q: range end precedes start", s)
	}
	return Key{start: start, end: end}, nil
}

// MustParse is Parse for literals in tests and embedded definitions.
func MustParse(s string) Key {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Day returns the single-day key for t.
func Day(t time.Time) Key {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Key{start: d, end: d}
}

// IsZero reports whether k is the zero key.
func (k Key) IsZero() bool {
	return k.start.IsZero()
}

// IsRange reports whether k spans more than one day.
func (k Key) IsRange() bool {
	return !k.start.Equal(k.end)
}

// Start returns the first day covered by k.
func (k Key) Start() time.Time { return k.start }

// End returns the last day covered by k.
func (k Key) End() time.Time { return k.end }

// Next returns the single day following the end of k.
func (k Key) Next() Key {
	return Day(k.end.AddDate(0, 0, 1))
}

// Compare orders keys by their end day, then by start day.
func (k Key) Compare(other Key) int {
	if c := k.end.Compare(other.end); c != 0 {
		return c
	}
	return k.start.Compare(other.start)
}

// Equal reports whether k and other cover exactly the same days.
func (k Key) Equal(other Key) bool {
	return k.start.Equal(other.start) && k.end.Equal(other.end)
}

// Covers reports whether a watermark at k already includes other.
func (k Key) Covers(other Key) bool {
	return !k.IsZero() && !other.end.After(k.end)
}

// Overlaps reports whether k and other share at least one day.
func (k Key) Overlaps(other Key) bool {
	if k.IsZero() || other.IsZero() {
		return false
	}
	return !k.start.After(other.end) && !other.start.After(k.end)
}

// Max returns the later of a and b by Compare.
func Max(a, b Key) Key {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}

// String renders the canonical form accepted by Parse.
func (k Key) String() string {
	if k.IsZero() {
		return ""
	}
	if !k.IsRange() {
		return k.start.Format(dateLayout)
	}
	return k.start.Format(dateLayout) + rangeSep + k.end.Format(dateLayout)
}

// Days returns the individual days covered by k, in order.
func (k Key) Days() []Key {
	var days []Key
	for d := k.start; !d.After(k.end); d = d.AddDate(0, 0, 1) {
		days = append(days, Day(d))
	}
	return days
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty text yields the zero key.
func (k *Key) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*k = Key{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
