package domain

import "time"

// Game is one over/under betting round on a reference token.
// Corresponds to games table in PostgreSQL.
//
// Pot and supply fields are integer lamports / token base units. Prices are
// lamports per whole claim-token, i.e. fixed-point scaled by 1e9.
type Game struct {
	ID                 int64  `json:"id"`
	Initiator          string `json:"initiator"`
	InitiatorSignature string `json:"initiatorSignature"`

	ContractAddress string `json:"contractAddress"`
	MemecoinName    string `json:"memecoinName"`
	MemecoinSymbol  string `json:"memecoinSymbol"`
	TokenDecimal    int    `json:"tokenDecimal"`

	PriceStart         float64 `json:"memecoinPriceStart"` // token price in SOL at start
	PriceEnd           float64 `json:"memecoinPriceEnd"`
	UsdStart           float64 `json:"memecoinUsdStart"`
	UsdEnd             float64 `json:"memecoinUsdEnd"`
	OverUnderPriceLine float64 `json:"overUnderPriceLine"`

	TimeStarted time.Time  `json:"timeStarted"`
	TimeEnded   *time.Time `json:"timeEnded"`
	MergedAt    *time.Time `json:"mergedAt"` // set once the settlement merge is confirmed
	Winner      Side       `json:"winner,omitempty"`

	OverPot  int64 `json:"overPot"`
	UnderPot int64 `json:"underPot"`
	TotalPot int64 `json:"totalPot"`

	OverTokenMinted  int64 `json:"overTokenMinted"`
	OverTokenBurnt   int64 `json:"overTokenBurnt"`
	UnderTokenMinted int64 `json:"underTokenMinted"`
	UnderTokenBurnt  int64 `json:"underTokenBurnt"`

	OverPrice  int64 `json:"overPrice"`
	UnderPrice int64 `json:"underPrice"`

	BuyFee  int64 `json:"-"`
	SellFee int64 `json:"-"`

	ClaimableWinningPotInSol int64 `json:"claimableWinningPotInSol"`

	// Public addresses only. Secret keys live in the secrets vault.
	OverPotAddress    string `json:"overPotAddress"`
	UnderPotAddress   string `json:"underPotAddress"`
	OverTokenAddress  string `json:"overTokenAddress"`
	UnderTokenAddress string `json:"underTokenAddress"`

	// Associated token accounts of the pots for their own side's mint.
	OverPotTokenAccount  string `json:"overPotTokenAccount"`
	UnderPotTokenAccount string `json:"underPotTokenAccount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsActive reports whether the game still accepts buys and sells.
func (g *Game) IsActive() bool {
	return g.TimeEnded == nil
}

// MergePending reports whether the game ended but its pots were not merged yet.
func (g *Game) MergePending() bool {
	return g.TimeEnded != nil && g.MergedAt == nil
}

// Elapsed returns the time since the game started.
func (g *Game) Elapsed(now time.Time) time.Duration {
	return now.Sub(g.TimeStarted)
}

// Pot returns the pot balance of a side.
func (g *Game) Pot(side Side) int64 {
	if side == SideOver {
		return g.OverPot
	}
	return g.UnderPot
}

// Price returns the claim-token price of a side.
func (g *Game) Price(side Side) int64 {
	if side == SideOver {
		return g.OverPrice
	}
	return g.UnderPrice
}

// Minted returns the minted claim-token supply of a side.
func (g *Game) Minted(side Side) int64 {
	if side == SideOver {
		return g.OverTokenMinted
	}
	return g.UnderTokenMinted
}

// Burnt returns the burnt claim-token supply of a side.
func (g *Game) Burnt(side Side) int64 {
	if side == SideOver {
		return g.OverTokenBurnt
	}
	return g.UnderTokenBurnt
}

// Outstanding returns minted minus burnt for a side.
func (g *Game) Outstanding(side Side) int64 {
	return g.Minted(side) - g.Burnt(side)
}

// PotAddress returns the custodial pot address of a side.
func (g *Game) PotAddress(side Side) string {
	if side == SideOver {
		return g.OverPotAddress
	}
	return g.UnderPotAddress
}

// MintAddress returns the claim-token mint of a side.
func (g *Game) MintAddress(side Side) string {
	if side == SideOver {
		return g.OverTokenAddress
	}
	return g.UnderTokenAddress
}

// PotTokenAccount returns the claim-token account of a side's pot.
func (g *Game) PotTokenAccount(side Side) string {
	if side == SideOver {
		return g.OverPotTokenAccount
	}
	return g.UnderPotTokenAccount
}

// SideOfTokenAccount returns the side whose pot token account equals addr.
func (g *Game) SideOfTokenAccount(addr string) (Side, bool) {
	switch addr {
	case g.OverPotTokenAccount:
		return SideOver, true
	case g.UnderPotTokenAccount:
		return SideUnder, true
	}
	return "", false
}

// Internal reports whether addr is one of the game's own accounts.
func (g *Game) Internal(addr string) bool {
	switch addr {
	case g.OverPotAddress, g.UnderPotAddress,
		g.OverTokenAddress, g.UnderTokenAddress,
		g.OverPotTokenAccount, g.UnderPotTokenAccount:
		return addr != ""
	}
	return false
}

// SideOfPot returns the side whose pot address equals addr.
func (g *Game) SideOfPot(addr string) (Side, bool) {
	switch addr {
	case g.OverPotAddress:
		return SideOver, true
	case g.UnderPotAddress:
		return SideUnder, true
	}
	return "", false
}

// TotalFee returns buy and sell fees accrued so far.
func (g *Game) TotalFee() int64 {
	return g.BuyFee + g.SellFee
}

// Clone returns a deep copy.
func (g *Game) Clone() *Game {
	c := *g
	if g.TimeEnded != nil {
		t := *g.TimeEnded
		c.TimeEnded = &t
	}
	if g.MergedAt != nil {
		t := *g.MergedAt
		c.MergedAt = &t
	}
	return &c
}
