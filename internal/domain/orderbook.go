package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookSnapshot is a full snapshot of bids and asks for one asset.
type BookSnapshot struct {
	AssetID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the highest bid price, or 0 when there are no bids.
func (b BookSnapshot) BestBid() float64 {
	best := 0.0
	for _, l := range b.Bids {
		if l.Price > best {
			best = l.Price
		}
	}
	return best
}

// BestAsk returns the lowest ask price, or 0 when there are no asks.
func (b BookSnapshot) BestAsk() float64 {
	best := 0.0
	for _, l := range b.Asks {
		if best == 0 || l.Price < best {
			best = l.Price
		}
	}
	return best
}

// BestAskDepth returns the dollar depth (price * size) resting at the best
// ask level. Levels tied at the best price are summed.
func (b BookSnapshot) BestAskDepth() float64 {
	best := b.BestAsk()
	if best == 0 {
		return 0
	}
	depth := 0.0
	for _, l := range b.Asks {
		if l.Price == best {
			depth += l.Price * l.Size
		}
	}
	return depth
}

// PriceUpdate is a single best-price update for an asset from the feed.
type PriceUpdate struct {
	AssetID   string
	Price     float64
	BestBid   float64
	BestAsk   float64
	Timestamp time.Time
}
