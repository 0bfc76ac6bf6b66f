package exposure_test

import (
	"errors"
	"testing"

	"github.com/agrex/futures-ledger/internal/exposure"
)

func TestCheckCreate_WithinLimits(t *testing.T) {
	l := exposure.NewLimiter(5, 100)

	if err := l.CheckCreate(0, 0, 0); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	// Exactly at the limit after the new contract is still allowed.
	if err := l.CheckCreate(4, 4, 99); err != nil {
		t.Errorf("expected nil at limit, got %v", err)
	}
}

func TestCheckCreate_TraderLimit(t *testing.T) {
	l := exposure.NewLimiter(5, 0)

	if err := l.CheckCreate(5, 0, 0); !errors.Is(err, exposure.ErrTraderLimitExceeded) {
		t.Errorf("expected ErrTraderLimitExceeded for buyer, got %v", err)
	}
	if err := l.CheckCreate(0, 5, 0); !errors.Is(err, exposure.ErrTraderLimitExceeded) {
		t.Errorf("expected ErrTraderLimitExceeded for seller, got %v", err)
	}
}

func TestCheckCreate_CropLimit(t *testing.T) {
	l := exposure.NewLimiter(0, 10)

	if err := l.CheckCreate(0, 0, 10); !errors.Is(err, exposure.ErrCropLimitExceeded) {
		t.Errorf("expected ErrCropLimitExceeded, got %v", err)
	}
}

func TestCheckCreate_ZeroDisables(t *testing.T) {
	l := exposure.NewLimiter(0, 0)

	if err := l.CheckCreate(1000000, 1000000, 1000000); err != nil {
		t.Errorf("zero limits should disable all checks, got %v", err)
	}
}

func TestNewLimiter_NegativeTreatedAsDisabled(t *testing.T) {
	l := exposure.NewLimiter(-1, -7)

	if l.MaxActivePerTrader != 0 || l.MaxOpenPerCrop != 0 {
		t.Errorf("negative maxima should normalize to 0, got %+v", l)
	}
}
