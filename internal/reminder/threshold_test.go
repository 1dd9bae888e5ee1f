package reminder

import (
	"reflect"
	"testing"
	"time"
)

func TestCrossed(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	set := DefaultThresholds()
	tests := []struct {
		name string
		now  time.Time
		want []string
	}{
		{"nine hours out", start.Add(-9 * time.Hour), nil},
		{"exactly eight hours", start.Add(-8 * time.Hour), []string{"8h"}},
		{"61 minutes out", start.Add(-61 * time.Minute), []string{"8h", "3h"}},
		{"59 minutes out", start.Add(-59 * time.Minute), []string{"8h", "3h", "1h"}},
		{"at start", start, []string{"8h", "3h", "1h", "now"}},
		{"long after start", start.Add(48 * time.Hour), []string{"8h", "3h", "1h", "now"}},
		{"other zone same instant", start.In(time.FixedZone("WIB", 7*3600)), []string{"8h", "3h", "1h", "now"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Thresholds(Crossed(start, tt.now, set)).Labels()
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Crossed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCrossedIsIdempotent(t *testing.T) {
	start := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	now := start.Add(-2 * time.Hour)
	set := DefaultThresholds()
	a := Crossed(start, now, set)
	b := Crossed(start, now, set)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Crossed not idempotent: %v vs %v", a, b)
	}
	if !reflect.DeepEqual(set, DefaultThresholds()) {
		t.Fatal("Crossed mutated the threshold set")
	}
}

func TestParseThresholds(t *testing.T) {
	got, err := ParseThresholds([]string{"now", "1h", " 24h ", "3h"})
	if err != nil {
		t.Fatalf("ParseThresholds: %v", err)
	}
	if want := []string{"24h", "3h", "1h", "now"}; !reflect.DeepEqual(got.Labels(), want) {
		t.Fatalf("labels = %v, want %v", got.Labels(), want)
	}
	if got[0].Lead != 24*time.Hour || got[3].Lead != 0 {
		t.Fatalf("leads = %+v", got)
	}

	bad := [][]string{
		nil,
		{"1h", "1h"},
		{"60m", "1h"},
		{"-1h"},
		{"soon"},
	}
	for _, in := range bad {
		if _, err := ParseThresholds(in); err == nil {
			t.Fatalf("ParseThresholds(%v) should fail", in)
		}
	}
}
