package pricing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrex/futures-ledger/internal/crop"
	"github.com/agrex/futures-ledger/internal/pricing"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestNewIndex_RejectsBadParameters(t *testing.T) {
	if _, err := pricing.NewIndex(decimal.Zero, 10); !errors.Is(err, pricing.ErrInvalidAlpha) {
		t.Errorf("alpha=0 should fail, got %v", err)
	}
	if _, err := pricing.NewIndex(d(1.5), 10); !errors.Is(err, pricing.ErrInvalidAlpha) {
		t.Errorf("alpha=1.5 should fail, got %v", err)
	}
	if _, err := pricing.NewIndex(d(0.5), 0); !errors.Is(err, pricing.ErrInvalidHistorySize) {
		t.Errorf("historySize=0 should fail, got %v", err)
	}
}

func TestUpdate_FirstObservationSeeds(t *testing.T) {
	ix, err := pricing.NewIndex(d(0.2), 10)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}

	got := ix.Update(crop.Wheat, d(7.50), time.Now().UTC())
	if !got.Equal(d(7.50)) {
		t.Errorf("first update should seed index, got %s", got)
	}
}

func TestUpdate_EWMA(t *testing.T) {
	ix, _ := pricing.NewIndex(d(0.5), 10)
	now := time.Now().UTC()

	ix.Update(crop.Corn, d(10), now)
	got := ix.Update(crop.Corn, d(20), now)

	// 0.5*20 + 0.5*10 = 15
	if !got.Equal(d(15)) {
		t.Errorf("expected 15, got %s", got)
	}

	cur, ok := ix.Current(crop.Corn)
	if !ok || !cur.Equal(d(15)) {
		t.Errorf("Current = %s, %v", cur, ok)
	}
}

func TestCurrent_UnseededCrop(t *testing.T) {
	ix, _ := pricing.NewIndex(d(0.5), 10)

	if _, ok := ix.Current(crop.Rice); ok {
		t.Error("unseeded crop should report no index")
	}
}

func TestHistory_BoundedRing(t *testing.T) {
	ix, _ := pricing.NewIndex(d(0.5), 3)
	now := time.Now().UTC()

	for i := 1; i <= 5; i++ {
		ix.Update(crop.Soybean, decimal.NewFromInt(int64(i)), now)
	}

	hist := ix.History(crop.Soybean)
	if len(hist) != 3 {
		t.Fatalf("expected 3 points, got %d", len(hist))
	}
	// Oldest retained observation is the third.
	if !hist[0].Price.Equal(d(3)) {
		t.Errorf("expected oldest price 3, got %s", hist[0].Price)
	}
	if !hist[2].Price.Equal(d(5)) {
		t.Errorf("expected newest price 5, got %s", hist[2].Price)
	}
}
