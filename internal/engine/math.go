package engine

import (
	"math"
	"math/big"
	"time"

	"overunder/internal/domain"
)

const lamportsPerSol = 1_000_000_000

// Calculate returns the claim-token base units minted for a deposit of
// lamports at price (lamports per whole claim-token):
//
//	floor((lamports*0.99/1e9) / (price/10^decimals) * 10^decimals)
//
// The 1% kept here is in addition to the fee booked by Fee.
func Calculate(lamports, price int64, decimals int) int64 {
	if lamports <= 0 || price <= 0 {
		return 0
	}
	mul := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)

	// lamports*99 * mul * mul / (100 * 1e9 * price)
	num := new(big.Int).Mul(big.NewInt(lamports), big.NewInt(99))
	num.Mul(num, mul)
	num.Mul(num, mul)
	den := new(big.Int).Mul(big.NewInt(100*lamportsPerSol), big.NewInt(price))

	q := new(big.Int).Quo(num, den)
	if !q.IsInt64() {
		return math.MaxInt64
	}
	return q.Int64()
}

// Fee returns bps basis points of amount, rounded half up.
func Fee(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return (amount*bps + 5000) / 10_000
}

// ProgressiveTax is the share of a sale withheld after elapsed of a game of
// length duration. It grows linearly from 0 to ceiling.
func ProgressiveTax(elapsed, duration time.Duration, ceiling float64) float64 {
	if elapsed <= 0 || duration <= 0 {
		return 0
	}
	if elapsed >= duration {
		return ceiling
	}
	return elapsed.Minutes() / duration.Minutes() * ceiling
}

// SellQuote is the valuation of a sale of claim-tokens.
type SellQuote struct {
	SolValue       int64   // amount at the side's current price
	Fee            int64   // flat fee on SolValue
	Nett           int64   // SolValue - Fee
	Tax            float64 // progressive tax rate
	Payout         int64   // floor((1-Tax) * Nett), before the network fee
	Redistribution int64   // floor(2*Tax*Nett/3), moved to the other pot
}

// QuoteSell values amount claim-token base units sold at price.
func QuoteSell(price, amount int64, elapsed time.Duration, cfg Config) SellQuote {
	var q SellQuote
	if price <= 0 || amount <= 0 {
		return q
	}

	value := new(big.Int).Mul(big.NewInt(price), big.NewInt(amount))
	value.Quo(value, big.NewInt(lamportsPerSol))
	q.SolValue = value.Int64()

	q.Fee = Fee(q.SolValue, cfg.FeeBps)
	q.Nett = q.SolValue - q.Fee
	q.Tax = ProgressiveTax(elapsed, cfg.GameDuration, cfg.TaxCeiling)
	q.Payout = int64(math.Floor((1 - q.Tax) * float64(q.Nett)))
	q.Redistribution = int64(math.Floor(2 * q.Tax * float64(q.Nett) / 3))
	return q
}

// RedeemValue is the share of claimable owed for amount of supply tokens.
func RedeemValue(amount, supply, claimable int64) int64 {
	if amount <= 0 || supply <= 0 || claimable <= 0 {
		return 0
	}
	v := new(big.Int).Mul(big.NewInt(amount), big.NewInt(claimable))
	v.Quo(v, big.NewInt(supply))
	return v.Int64()
}

// reprice recomputes both side prices from pot and outstanding supply.
// A side with no outstanding supply keeps its price.
func reprice(g *domain.Game) {
	if n := g.Outstanding(domain.SideOver); n > 0 {
		g.OverPrice = priceOf(g.OverPot, n)
	}
	if n := g.Outstanding(domain.SideUnder); n > 0 {
		g.UnderPrice = priceOf(g.UnderPot, n)
	}
}

func priceOf(pot, outstanding int64) int64 {
	if pot <= 0 {
		return 0
	}
	return int64(math.Round(float64(pot) / float64(outstanding) * lamportsPerSol))
}

// rebook recomputes the derived totals after a pot or fee change.
func rebook(g *domain.Game) {
	g.TotalPot = g.OverPot + g.UnderPot
	g.ClaimableWinningPotInSol = g.TotalPot - g.TotalFee()
	if g.ClaimableWinningPotInSol < 0 {
		g.ClaimableWinningPotInSol = 0
	}
}
