// Package domain defines the core entities and the store/cache contracts
// shared across the monitor. Implementations live under internal/store,
// internal/cache, internal/blob, and internal/platform.
package domain

// MarketType classifies a Polymarket market by the kind of line it carries.
type MarketType string

const (
	MarketTotal      MarketType = "total"
	MarketSpread     MarketType = "spread"
	MarketMoneyline  MarketType = "moneyline"
	MarketPlayerProp MarketType = "player_prop"
	MarketOther      MarketType = "other"
)

// OutcomeToken is one tradeable outcome of a market: the CLOB token id plus
// the outcome label it settles on.
type OutcomeToken struct {
	TokenID string
	Outcome string
}

// Market represents a Polymarket prediction market.
type Market struct {
	ID       string
	Slug     string
	Question string
	Type     MarketType
	Line     float64
	Active   bool
	Closed   bool
	Tokens   []OutcomeToken
}

// Event groups the markets of one underlying Gamma event. NegRisk events
// settle with exactly one winning outcome across their markets, which makes
// them candidates for rebalance tracking.
type Event struct {
	ID      string
	Slug    string
	Title   string
	NegRisk bool
	Tags    []string
	Markets []Market
}
