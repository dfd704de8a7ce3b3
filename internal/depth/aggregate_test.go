package depth

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"depthwatch/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func lvl(price, qty string) domain.PriceLevel {
	return domain.PriceLevel{Price: d(price), Quantity: d(qty)}
}

func TestTopN(t *testing.T) {
	t.Run("Truncates To N", func(t *testing.T) {
		levels := []domain.PriceLevel{lvl("100", "10"), lvl("99", "10"), lvl("98", "10")}
		rows := TopN(levels, 2, decimal.Zero)
		if len(rows) != 2 {
			t.Fatalf("Expected 2 rows, got %d", len(rows))
		}
		if !rows[0].Price.Equal(d("100")) || !rows[1].Price.Equal(d("99")) {
			t.Errorf("Row order must follow input order: %v", rows)
		}
	})

	t.Run("Min Amount Filter", func(t *testing.T) {
		levels := []domain.PriceLevel{
			lvl("100", "5"),  // amount 500, filtered
			lvl("99", "20"),  // amount 1980, kept
			lvl("98", "100"), // amount 9800, kept
		}
		rows := TopN(levels, 10, d("1000"))
		if len(rows) != 2 {
			t.Fatalf("Expected 2 rows after filter, got %d", len(rows))
		}
		if !rows[0].Price.Equal(d("99")) {
			t.Errorf("Expected first kept row at 99, got %s", rows[0].Price)
		}
	})

	t.Run("Amount Exactly At Threshold Is Excluded", func(t *testing.T) {
		rows := TopN([]domain.PriceLevel{lvl("100", "10")}, 10, d("1000"))
		if len(rows) != 0 {
			t.Errorf("Amount equal to threshold should be excluded, got %v", rows)
		}
	})

	t.Run("Cumulative Amount Is Monotone", func(t *testing.T) {
		levels := []domain.PriceLevel{lvl("100", "2"), lvl("99", "3"), lvl("98", "1")}
		rows := TopN(levels, 10, decimal.Zero)
		prev := decimal.Zero
		for i, row := range rows {
			if row.CumulativeAmount.LessThan(prev) {
				t.Fatalf("Cumulative amount decreased at row %d", i)
			}
			prev = row.CumulativeAmount
		}
		want := d("100").Mul(d("2")).Add(d("99").Mul(d("3"))).Add(d("98").Mul(d("1")))
		if !rows[len(rows)-1].CumulativeAmount.Equal(want) {
			t.Errorf("Expected final cumulative %s, got %s", want, rows[len(rows)-1].CumulativeAmount)
		}
	})
}

func TestBucketedTopN(t *testing.T) {
	t.Run("Bids Round Down And Merge", func(t *testing.T) {
		levels := []domain.PriceLevel{
			lvl("100.017", "2"),
			lvl("100.013", "3"),
		}
		rows := BucketedTopN(levels, domain.SideBid, d("0.01"), 10, decimal.Zero)
		if len(rows) != 1 {
			t.Fatalf("Expected 1 merged bucket, got %d", len(rows))
		}
		if !rows[0].Price.Equal(d("100.01")) {
			t.Errorf("Expected bucket price 100.01, got %s", rows[0].Price)
		}
		if !rows[0].Quantity.Equal(d("5")) {
			t.Errorf("Expected merged quantity 5, got %s", rows[0].Quantity)
		}
	})

	t.Run("Asks Round Up", func(t *testing.T) {
		levels := []domain.PriceLevel{
			lvl("100.013", "1"),
			lvl("100.017", "1"),
		}
		rows := BucketedTopN(levels, domain.SideAsk, d("0.01"), 10, decimal.Zero)
		if len(rows) != 1 {
			t.Fatalf("Expected 1 merged bucket, got %d", len(rows))
		}
		if !rows[0].Price.Equal(d("100.02")) {
			t.Errorf("Expected bucket price 100.02, got %s", rows[0].Price)
		}
	})

	t.Run("Exact Boundary Stays Put", func(t *testing.T) {
		rows := BucketedTopN([]domain.PriceLevel{lvl("100.01", "1")}, domain.SideAsk, d("0.01"), 10, decimal.Zero)
		if !rows[0].Price.Equal(d("100.01")) {
			t.Errorf("Price on the boundary must not move, got %s", rows[0].Price)
		}
	})

	t.Run("Filter Applies To Bucket Sums", func(t *testing.T) {
		// Each raw level is below the threshold; their bucket sum is not.
		levels := []domain.PriceLevel{
			lvl("100.019", "4"), // 400.076
			lvl("100.012", "7"), // 700.084
		}
		rows := BucketedTopN(levels, domain.SideBid, d("0.01"), 10, d("1000"))
		if len(rows) != 1 {
			t.Fatalf("Expected the merged bucket to pass the filter, got %d rows", len(rows))
		}
	})

	t.Run("Zero Increment Falls Back To TopN", func(t *testing.T) {
		levels := []domain.PriceLevel{lvl("100.017", "2"), lvl("100.013", "3")}
		rows := BucketedTopN(levels, domain.SideBid, decimal.Zero, 10, decimal.Zero)
		if len(rows) != 2 {
			t.Errorf("Expected unbucketed rows, got %d", len(rows))
		}
	})
}

func TestDefenceBands(t *testing.T) {
	bids := []domain.PriceLevel{
		lvl("100", "10"),   // amount 1000
		lvl("99.6", "10"),  // amount 996
		lvl("95", "100"),   // far outside narrow bands
	}
	asks := []domain.PriceLevel{
		lvl("100.5", "10"), // amount 1005
		lvl("100.9", "10"), // amount 1009
		lvl("106", "100"),
	}
	bestBid, bestAsk := d("100"), d("100.5")

	t.Run("Band Windows Are Inclusive", func(t *testing.T) {
		// 50 bps: asks within [100.5, 101.0025], bids within [99.5, 100].
		bands := DefenceBands(bids, asks, bestBid, bestAsk, []int64{50})
		if len(bands) != 1 {
			t.Fatalf("Expected 1 band, got %d", len(bands))
		}
		b := bands[0]
		if !b.BidAmount.Equal(d("1996")) {
			t.Errorf("Expected bid amount 1996, got %s", b.BidAmount)
		}
		if !b.AskAmount.Equal(d("2014")) {
			t.Errorf("Expected ask amount 2014, got %s", b.AskAmount)
		}
		want := 1996.0 / (1996.0 + 2014.0)
		if math.Abs(b.Ratio-want) > 1e-9 {
			t.Errorf("Expected ratio %v, got %v", want, b.Ratio)
		}
	})

	t.Run("Narrow Band Only Sees The Touch", func(t *testing.T) {
		// 10 bps: asks within [100.5, 100.6005], bids within [99.9, 100].
		bands := DefenceBands(bids, asks, bestBid, bestAsk, []int64{10})
		b := bands[0]
		if !b.BidAmount.Equal(d("1000")) || !b.AskAmount.Equal(d("1005")) {
			t.Errorf("Expected touch-only sums 1000/1005, got %s/%s", b.BidAmount, b.AskAmount)
		}
	})

	t.Run("Single Level Each Side", func(t *testing.T) {
		bands := DefenceBands(
			[]domain.PriceLevel{lvl("99.95", "10")},
			[]domain.PriceLevel{lvl("100.52", "10")},
			d("100"), d("100.5"), []int64{50})
		b := bands[0]
		if !b.BidAmount.Equal(d("999.5")) || !b.AskAmount.Equal(d("1005.2")) {
			t.Fatalf("Expected sums 999.5/1005.2, got %s/%s", b.BidAmount, b.AskAmount)
		}
		want := 999.5 / (999.5 + 1005.2)
		if math.Abs(b.Ratio-want) > 1e-9 {
			t.Errorf("Expected ratio %v, got %v", want, b.Ratio)
		}
	})

	t.Run("Empty Book Yields Zero Ratio", func(t *testing.T) {
		bands := DefenceBands(nil, nil, d("100"), d("101"), []int64{100})
		if bands[0].Ratio != 0 {
			t.Errorf("Expected ratio 0 with no liquidity, got %v", bands[0].Ratio)
		}
	})

	t.Run("One Band Per Configured Width", func(t *testing.T) {
		widths := []int64{10, 50, 100, 500}
		bands := DefenceBands(bids, asks, bestBid, bestAsk, widths)
		if len(bands) != len(widths) {
			t.Fatalf("Expected %d bands, got %d", len(widths), len(bands))
		}
		for i, b := range bands {
			if b.PercentBps != widths[i] {
				t.Errorf("Band %d: expected width %d, got %d", i, widths[i], b.PercentBps)
			}
		}
		// Wider bands can only see more liquidity.
		for i := 1; i < len(bands); i++ {
			if bands[i].BidAmount.LessThan(bands[i-1].BidAmount) {
				t.Error("Bid sums must not shrink as the band widens")
			}
		}
	})
}
