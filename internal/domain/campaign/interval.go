package campaign

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Unit is a calendar unit an Interval can be expressed in.
type Unit string

const (
	UnitYears        Unit = "years"
	UnitQuarters     Unit = "quarters"
	UnitMonths       Unit = "months"
	UnitWeeks        Unit = "weeks"
	UnitDays         Unit = "days"
	UnitHours        Unit = "hours"
	UnitMinutes      Unit = "minutes"
	UnitSeconds      Unit = "seconds"
	UnitMilliseconds Unit = "milliseconds"
)

// unitAliases maps every accepted spelling to its canonical unit. The
// short forms are case sensitive: "M" is months, "m" is minutes.
var unitAliases = map[string]Unit{
	"years": UnitYears, "year": UnitYears, "y": UnitYears,
	"quarters": UnitQuarters, "quarter": UnitQuarters, "Q": UnitQuarters,
	"months": UnitMonths, "month": UnitMonths, "M": UnitMonths,
	"weeks": UnitWeeks, "week": UnitWeeks, "w": UnitWeeks,
	"days": UnitDays, "day": UnitDays, "d": UnitDays,
	"hours": UnitHours, "hour": UnitHours, "h": UnitHours,
	"minutes": UnitMinutes, "minute": UnitMinutes, "m": UnitMinutes,
	"seconds": UnitSeconds, "second": UnitSeconds, "s": UnitSeconds,
	"milliseconds": UnitMilliseconds, "millisecond": UnitMilliseconds, "ms": UnitMilliseconds,
}

// ParseUnit resolves a unit name or alias.
func ParseUnit(name string) (Unit, error) {
	u, ok := unitAliases[name]
	if !ok {
		return "", fmt.Errorf("unknown interval unit %q", name)
	}
	return u, nil
}

// IntervalPart is one unit/count pair of an Interval.
type IntervalPart struct {
	Unit  Unit
	Count int
}

// Interval is an ordered list of unit/count pairs such as {"months": 6, "days": 15}.
// Parts are applied in order, so the JSON key order is significant and is
// preserved when decoding.
type Interval []IntervalPart

// IsZero reports whether the interval has no parts.
func (iv Interval) IsZero() bool { return len(iv) == 0 }

// AddTo adds every part to t using calendar arithmetic. Adding months or
// years clamps to the last day of the target month, so Jan 31 + 1 month is
// the last day of February.
func (iv Interval) AddTo(t time.Time) time.Time {
	for _, p := range iv {
		t = addUnit(t, p.Unit, p.Count)
	}
	return t
}

// SubtractFrom subtracts every part from t, in order.
func (iv Interval) SubtractFrom(t time.Time) time.Time {
	for _, p := range iv {
		t = addUnit(t, p.Unit, -p.Count)
	}
	return t
}

func addUnit(t time.Time, u Unit, n int) time.Time {
	switch u {
	case UnitYears:
		return addMonths(t, 12*n)
	case UnitQuarters:
		return addMonths(t, 3*n)
	case UnitMonths:
		return addMonths(t, n)
	case UnitWeeks:
		return t.AddDate(0, 0, 7*n)
	case UnitDays:
		return t.AddDate(0, 0, n)
	case UnitHours:
		return t.Add(time.Duration(n) * time.Hour)
	case UnitMinutes:
		return t.Add(time.Duration(n) * time.Minute)
	case UnitSeconds:
		return t.Add(time.Duration(n) * time.Second)
	case UnitMilliseconds:
		return t.Add(time.Duration(n) * time.Millisecond)
	}
	return t
}

func addMonths(t time.Time, n int) time.Time {
	if n == 0 {
		return t
	}
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	total := y*12 + int(m) - 1 + n
	ny := floorDiv(total, 12)
	nm := time.Month(total - ny*12 + 1)

	if last := daysIn(ny, nm, t.Location()); d > last {
		d = last
	}
	return time.Date(ny, nm, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// UnmarshalJSON decodes a JSON object keeping its key order.
func (iv *Interval) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*iv = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode interval: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode interval: expected object, got %v", tok)
	}

	parts := Interval{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode interval key: %w", err)
		}
		key, _ := keyTok.(string)
		unit, err := ParseUnit(key)
		if err != nil {
			return err
		}

		var num json.Number
		if err := dec.Decode(&num); err != nil {
			return fmt.Errorf("decode interval %q: %w", key, err)
		}
		f, err := num.Float64()
		if err != nil || f != math.Trunc(f) {
			return fmt.Errorf("interval %q must be a whole number, got %s", key, num)
		}
		parts = append(parts, IntervalPart{Unit: unit, Count: int(f)})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode interval: %w", err)
	}

	*iv = parts
	return nil
}

// MarshalJSON encodes the interval as an object in part order.
func (iv Interval) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range iv {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(string(p.Unit))
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", p.Count)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (iv Interval) String() string {
	b, _ := iv.MarshalJSON()
	return string(b)
}
