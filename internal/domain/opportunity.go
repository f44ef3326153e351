package domain

import "time"

// OutcomeQuote is the best-ask view of one outcome inside a rebalance
// opportunity.
type OutcomeQuote struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	BestAsk float64 `json:"best_ask"`
	Depth   float64 `json:"depth_usd"`
}

// RebalanceOpportunity is fired when the best asks across every outcome of a
// multi-outcome event sum below 1.0: buying one share of each outcome costs
// less than the guaranteed $1 payout.
type RebalanceOpportunity struct {
	ID           string         `json:"id"`
	EventID      string         `json:"event_id"`
	Title        string         `json:"title"`
	Time         time.Time      `json:"timestamp"`
	OutcomeCount int            `json:"outcome_count"`
	Sum          float64        `json:"sum"`
	Gap          float64        `json:"gap"`
	GapPct       float64        `json:"gap_pct"`
	Strong       bool           `json:"strong"`
	Executable   bool           `json:"executable"`
	MinDepth     float64        `json:"min_depth_usd"`
	Outcomes     []OutcomeQuote `json:"outcomes"`
}
