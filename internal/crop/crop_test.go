package crop_test

import (
	"testing"
	"time"

	"github.com/agrex/futures-ledger/internal/crop"
)

func TestParse_Valid(t *testing.T) {
	cases := []struct {
		in   string
		want crop.Type
	}{
		{"WHEAT", crop.Wheat},
		{"wheat", crop.Wheat},
		{" Corn ", crop.Corn},
		{"rice", crop.Rice},
		{"SOYBEAN", crop.Soybean},
		{"cotton", crop.Cotton},
	}

	for _, c := range cases {
		got, err := crop.Parse(c.in)
		if err != nil {
			t.Errorf("Parse(%q) returned error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("Parse(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "BARLEY", "WHEAT2", "wheat corn"} {
		if _, err := crop.Parse(in); err == nil {
			t.Errorf("Parse(%q) should fail", in)
		}
	}
}

func TestAll_MatchesValidSet(t *testing.T) {
	all := crop.All()
	if len(all) != 5 {
		t.Fatalf("expected 5 commodity types, got %d", len(all))
	}
	for _, c := range all {
		if !c.Valid() {
			t.Errorf("All() returned invalid type %s", c)
		}
	}
}

func TestSettlementDate(t *testing.T) {
	created := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	want := created.Add(30 * 24 * time.Hour)
	if got := crop.SettlementDate(created); !got.Equal(want) {
		t.Errorf("SettlementDate = %s, want %s", got, want)
	}
}
