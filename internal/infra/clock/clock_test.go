package clock

import (
	"testing"
	"time"
)

func TestFixed(t *testing.T) {
	at := time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)
	c := Fixed(at)
	if !c.Now().Equal(at) || !c.Now().Equal(c.Now()) {
		t.Errorf("Now() = %v, want %v every time", c.Now(), at)
	}
}

func TestFake(t *testing.T) {
	start := time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)

	c.Advance(36 * time.Hour)
	if want := start.Add(36 * time.Hour); !c.Now().Equal(want) {
		t.Errorf("after Advance Now() = %v, want %v", c.Now(), want)
	}

	back := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	c.Set(back)
	if !c.Now().Equal(back) {
		t.Errorf("after Set Now() = %v, want %v", c.Now(), back)
	}
}

func TestRealIsUTC(t *testing.T) {
	if loc := Real().Now().Location(); loc != time.UTC {
		t.Errorf("Real().Now() location = %v, want UTC", loc)
	}
}
