package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"overunder/internal/domain"
)

func TestCalculate(t *testing.T) {
	got := Calculate(1_000_000_000, 1_000_000, 9)
	want := int64(math.Floor((1_000_000_000 * 0.99 / 1e9) / (1_000_000 / 1e9) * 1e9))

	assert.Equal(t, int64(990_000_000_000), got)
	assert.Equal(t, want, got)

	tests := []struct {
		name            string
		lamports, price int64
		decimals        int
		want            int64
	}{
		{"zero deposit", 0, 1_000_000, 9, 0},
		{"zero price", 1_000_000_000, 0, 9, 0},
		{"floors", 1, 7, 9, 141_428_571},
		{"six decimals", 2_000_000_000, 1_000_000, 6, 1_980_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Calculate(tt.lamports, tt.price, tt.decimals))
		})
	}
}

func TestFee(t *testing.T) {
	assert.Equal(t, int64(10_000_000), Fee(1_000_000_000, 100))
	assert.Equal(t, int64(2), Fee(150, 100))
	assert.Equal(t, int64(1), Fee(149, 100))
	assert.Equal(t, int64(0), Fee(0, 100))
}

func TestProgressiveTax(t *testing.T) {
	hour := 60 * time.Minute

	assert.Equal(t, 0.0, ProgressiveTax(0, hour, 0.99))
	assert.InDelta(t, 0.495, ProgressiveTax(30*time.Minute, hour, 0.99), 1e-12)
	assert.Equal(t, 0.99, ProgressiveTax(hour, hour, 0.99))
	assert.Equal(t, 0.99, ProgressiveTax(3*hour, hour, 0.99))
}

func TestQuoteSell_AtStart(t *testing.T) {
	q := QuoteSell(1_000_000, 495_000_000_000, 0, DefaultConfig())

	assert.Equal(t, int64(495_000_000), q.SolValue)
	assert.Equal(t, int64(4_950_000), q.Fee)
	assert.Equal(t, int64(490_050_000), q.Nett)
	assert.Equal(t, int64(490_050_000), q.Payout)
	assert.Equal(t, int64(0), q.Redistribution)
}

func TestQuoteSell_PayoutDecreasesWithTime(t *testing.T) {
	cfg := DefaultConfig()
	prev := QuoteSell(1_000_000, 1_000_000_000_000, 0, cfg)

	for m := 1; m <= 60; m++ {
		q := QuoteSell(1_000_000, 1_000_000_000_000, time.Duration(m)*time.Minute, cfg)
		assert.Less(t, q.Payout, prev.Payout, "minute %d", m)
		assert.GreaterOrEqual(t, q.Redistribution, prev.Redistribution, "minute %d", m)
		assert.LessOrEqual(t, q.Payout+q.Redistribution, q.Nett)
		prev = q
	}

	// The floor is reached at the end of the window.
	assert.Equal(t, int64(9_900_000), prev.Payout)
	late := QuoteSell(1_000_000, 1_000_000_000_000, 90*time.Minute, cfg)
	assert.Equal(t, prev.Payout, late.Payout)
}

func TestRedeemValue(t *testing.T) {
	assert.Equal(t, int64(200_000_000), RedeemValue(100, 500, 1_000_000_000))
	assert.Equal(t, int64(200_000_000), RedeemValue(100_000_000_000, 500_000_000_000, 1_000_000_000))
	assert.Equal(t, int64(333_333_333), RedeemValue(1, 3, 1_000_000_000))
	assert.Equal(t, int64(0), RedeemValue(1, 0, 1_000_000_000))
}

func TestReprice_KeepsPriceWithoutSupply(t *testing.T) {
	g := &domain.Game{
		OverPot: 999_995_000, OverTokenMinted: 990_000_000_000, OverTokenBurnt: 495_000_000_000,
		UnderPot: 500, UnderPrice: 1_000_000,
	}
	reprice(g)

	assert.Equal(t, int64(2_020_192), g.OverPrice)
	assert.Equal(t, int64(1_000_000), g.UnderPrice)
}
