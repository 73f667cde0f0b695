package lookup

import (
	"testing"

	"agent-chart-lab/internal/domain"
)

var prices = []domain.TimePoint{
	{Timestamp: 1000, Value: 1.0},
	{Timestamp: 2000, Value: 2.0},
	{Timestamp: 3000, Value: 3.0},
}

func TestPriceAt_EmptySlice(t *testing.T) {
	_, err := PriceAt(1000, nil)
	if err != ErrNoPriceData {
		t.Errorf("expected ErrNoPriceData, got %v", err)
	}

	_, err = PriceAt(1000, []domain.TimePoint{})
	if err != ErrNoPriceData {
		t.Errorf("expected ErrNoPriceData, got %v", err)
	}
}

func TestPriceAt_ExactMatch(t *testing.T) {
	price, err := PriceAt(2000, prices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 2.0 {
		t.Errorf("expected 2.0, got %f", price)
	}
}

func TestPriceAt_BeforeTarget(t *testing.T) {
	// Target 2500 should return price at 2000
	price, err := PriceAt(2500, prices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 2.0 {
		t.Errorf("expected 2.0, got %f", price)
	}
}

func TestPriceAt_BeforeFirst(t *testing.T) {
	// Target 500 should return first price (1.0)
	price, err := PriceAt(500, prices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 1.0 {
		t.Errorf("expected 1.0, got %f", price)
	}
}

func TestPriceAt_AfterLast(t *testing.T) {
	// Target 5000 should return last price (3.0)
	price, err := PriceAt(5000, prices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 3.0 {
		t.Errorf("expected 3.0, got %f", price)
	}
}

func TestIndexAt_DuplicateTimestamps(t *testing.T) {
	points := []domain.TimePoint{
		{Timestamp: 1000, Value: 1},
		{Timestamp: 2000, Value: 2},
		{Timestamp: 2000, Value: 3},
	}

	// Last of the tied points wins.
	if got := IndexAt(2000, points); got != 2 {
		t.Errorf("expected index 2, got %d", got)
	}
	if got := IndexAt(1999, points); got != 0 {
		t.Errorf("expected index 0, got %d", got)
	}
}
