package domain

import "time"

// AnomalyType identifies the kind of price anomaly detected on the feed.
type AnomalyType string

const (
	AnomalyPriceChange    AnomalyType = "price_change"
	AnomalyYesNoImbalance AnomalyType = "yes_no_imbalance"
	AnomalyWideSpread     AnomalyType = "wide_spread"
)

// AnomalyDetails carries the type-specific measurements behind an anomaly.
// Only the fields relevant to the anomaly type are populated.
type AnomalyDetails struct {
	OldPrice      float64 `json:"old_price,omitempty"`
	NewPrice      float64 `json:"new_price,omitempty"`
	Delta         float64 `json:"delta,omitempty"`
	WindowSeconds float64 `json:"window_seconds,omitempty"`

	BestBid float64 `json:"best_bid,omitempty"`
	BestAsk float64 `json:"best_ask,omitempty"`
	Spread  float64 `json:"spread,omitempty"`

	YesPrice  float64 `json:"yes_price,omitempty"`
	NoPrice   float64 `json:"no_price,omitempty"`
	Total     float64 `json:"total,omitempty"`
	Deviation float64 `json:"deviation,omitempty"`

	// ArbitrageOpportunity is set on yes/no imbalance anomalies when the
	// two sides sum below 0.99, i.e. buying both sides locks in a profit.
	ArbitrageOpportunity bool `json:"arbitrage_opportunity,omitempty"`
}

// Anomaly is a single detected anomaly on one market of one game.
type Anomaly struct {
	Type       AnomalyType    `json:"type"`
	GameKey    string         `json:"game_key"`
	MarketType MarketType     `json:"market_type"`
	Outcome    string         `json:"outcome,omitempty"`
	Time       time.Time      `json:"time"`
	Details    AnomalyDetails `json:"details"`
}
