package domain

// Side identifies one of the two pots of a game.
type Side string

const (
	SideOver  Side = "over"
	SideUnder Side = "under"
)

// String returns the string representation of Side.
func (s Side) String() string {
	return string(s)
}

// IsValid checks if the side is a valid value.
func (s Side) IsValid() bool {
	return s == SideOver || s == SideUnder
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideOver {
		return SideUnder
	}
	return SideOver
}

// Sides lists both sides in a stable order.
var Sides = [2]Side{SideOver, SideUnder}

// WinningSide decides the winner from the start and end token prices.
// Over wins only on a strict increase; a flat or falling price is an under win.
func WinningSide(priceStart, priceEnd float64) Side {
	if priceEnd > priceStart {
		return SideOver
	}
	return SideUnder
}
