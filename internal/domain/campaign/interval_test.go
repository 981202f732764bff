package campaign

import (
	"encoding/json"
	"testing"
	"time"
)

func date(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestIntervalAddTo(t *testing.T) {
	tests := []struct {
		name     string
		interval string
		from     time.Time
		want     time.Time
	}{
		{"one year", `{"years": 1}`, date(2024, 3, 15, 10, 0), date(2025, 3, 15, 10, 0)},
		{"leap day plus a year", `{"years": 1}`, date(2024, 2, 29, 0, 0), date(2025, 2, 28, 0, 0)},
		{"end of january plus a month", `{"months": 1}`, date(2023, 1, 31, 8, 30), date(2023, 2, 28, 8, 30)},
		{"end of january plus a month in a leap year", `{"months": 1}`, date(2024, 1, 31, 8, 30), date(2024, 2, 29, 8, 30)},
		{"month across year boundary", `{"months": 2}`, date(2023, 12, 15, 0, 0), date(2024, 2, 15, 0, 0)},
		{"months then days", `{"months": 6, "days": 15}`, date(2024, 1, 1, 0, 0), date(2024, 7, 16, 0, 0)},
		{"quarter", `{"quarters": 1}`, date(2024, 11, 30, 0, 0), date(2025, 2, 28, 0, 0)},
		{"weeks and hours", `{"weeks": 2, "hours": 3}`, date(2024, 5, 1, 22, 0), date(2024, 5, 16, 1, 0)},
		{"short aliases", `{"M": 1, "m": 30}`, date(2024, 4, 30, 12, 0), date(2024, 5, 30, 12, 30)},
		{"empty", `{}`, date(2024, 4, 30, 12, 0), date(2024, 4, 30, 12, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var iv Interval
			if err := json.Unmarshal([]byte(tt.interval), &iv); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.interval, err)
			}
			if got := iv.AddTo(tt.from); !got.Equal(tt.want) {
				t.Errorf("AddTo(%v) = %v, want %v", tt.from, got, tt.want)
			}
		})
	}
}

func TestIntervalOrderMatters(t *testing.T) {
	from := date(2023, 1, 30, 0, 0)

	var daysFirst, monthsFirst Interval
	if err := json.Unmarshal([]byte(`{"days": 1, "months": 1}`), &daysFirst); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"months": 1, "days": 1}`), &monthsFirst); err != nil {
		t.Fatal(err)
	}

	// Jan 31 + 1 month clamps to Feb 28; Feb 28 + 1 day is Mar 1.
	if got, want := daysFirst.AddTo(from), date(2023, 2, 28, 0, 0); !got.Equal(want) {
		t.Errorf("days then months = %v, want %v", got, want)
	}
	if got, want := monthsFirst.AddTo(from), date(2023, 3, 1, 0, 0); !got.Equal(want) {
		t.Errorf("months then days = %v, want %v", got, want)
	}
}

func TestIntervalSubtractFrom(t *testing.T) {
	var iv Interval
	if err := json.Unmarshal([]byte(`{"months": 1}`), &iv); err != nil {
		t.Fatal(err)
	}
	if got, want := iv.SubtractFrom(date(2024, 3, 31, 9, 0)), date(2024, 2, 29, 9, 0); !got.Equal(want) {
		t.Errorf("SubtractFrom = %v, want %v", got, want)
	}

	var days Interval
	if err := json.Unmarshal([]byte(`{"days": 14}`), &days); err != nil {
		t.Fatal(err)
	}
	if got, want := days.SubtractFrom(date(2024, 3, 5, 0, 0)), date(2024, 2, 20, 0, 0); !got.Equal(want) {
		t.Errorf("SubtractFrom = %v, want %v", got, want)
	}
}

func TestIntervalJSON(t *testing.T) {
	var iv Interval
	if err := json.Unmarshal([]byte(`{"months": 6, "days": 15}`), &iv); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	want := Interval{{Unit: UnitMonths, Count: 6}, {Unit: UnitDays, Count: 15}}
	if len(iv) != len(want) || iv[0] != want[0] || iv[1] != want[1] {
		t.Fatalf("parts = %v, want %v", iv, want)
	}
	if got := iv.String(); got != `{"months":6,"days":15}` {
		t.Errorf("String() = %s", got)
	}

	var null Interval
	if err := json.Unmarshal([]byte(`null`), &null); err != nil || !null.IsZero() {
		t.Errorf("null interval = %v, %v; want zero, nil", null, err)
	}
}

func TestIntervalJSONErrors(t *testing.T) {
	for _, in := range []string{
		`{"fortnights": 1}`,
		`{"days": 1.5}`,
		`{"days": true}`,
		`[1, 2]`,
	} {
		var iv Interval
		if err := json.Unmarshal([]byte(in), &iv); err == nil {
			t.Errorf("Unmarshal(%s) = %v, want error", in, iv)
		}
	}
}
