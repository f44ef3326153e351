// Package oddsapi implements a client for The Odds API v4, used as the
// sportsbook oracle for lag detection.
package oddsapi

import (
	"math"
	"time"
)

// Market keys understood by The Odds API.
const (
	MarketTotals           = "totals"
	MarketSpreads          = "spreads"
	MarketH2H              = "h2h"
	MarketAlternateTotals  = "alternate_totals"
	MarketAlternateSpreads = "alternate_spreads"
)

// APIOutcome is one priced outcome inside a bookmaker market.
type APIOutcome struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Point float64 `json:"point"`
}

// APIMarketOdds is one market (totals, spreads, ...) quoted by a bookmaker.
type APIMarketOdds struct {
	Key      string       `json:"key"`
	Outcomes []APIOutcome `json:"outcomes"`
}

// APIBookmaker is one bookmaker's quotes for a game.
type APIBookmaker struct {
	Key     string          `json:"key"`
	Title   string          `json:"title"`
	Markets []APIMarketOdds `json:"markets"`
}

// APIGame is one game with its bookmaker quotes.
type APIGame struct {
	ID           string         `json:"id"`
	SportKey     string         `json:"sport_key"`
	CommenceTime time.Time      `json:"commence_time"`
	HomeTeam     string         `json:"home_team"`
	AwayTeam     string         `json:"away_team"`
	Bookmakers   []APIBookmaker `json:"bookmakers"`
}

// Bookmaker returns the quotes from the named bookmaker, or false when the
// game has none.
func (g *APIGame) Bookmaker(key string) (APIBookmaker, bool) {
	for _, b := range g.Bookmakers {
		if b.Key == key {
			return b, true
		}
	}
	return APIBookmaker{}, false
}

// Market returns the named market from a bookmaker's quotes.
func (b *APIBookmaker) Market(key string) (APIMarketOdds, bool) {
	for _, m := range b.Markets {
		if m.Key == key {
			return m, true
		}
	}
	return APIMarketOdds{}, false
}

// TotalLine is the de-vigged totals quote for one game.
type TotalLine struct {
	GameID       string
	HomeTeam     string
	AwayTeam     string
	CommenceTime time.Time
	Line         float64
	OverOdds     float64
	UnderOdds    float64
	OverImplied  float64
	UnderImplied float64
}

// DeVig converts two decimal odds into no-vig implied probabilities by
// normalizing the raw inverse odds. Non-positive odds yield the (0.5, 0.5)
// fallback.
func DeVig(overOdds, underOdds float64) (overImplied, underImplied float64) {
	if overOdds <= 0 || underOdds <= 0 {
		return 0.5, 0.5
	}
	rawOver := 1 / overOdds
	rawUnder := 1 / underOdds
	total := rawOver + rawUnder
	if total <= 0 {
		return 0.5, 0.5
	}
	return rawOver / total, rawUnder / total
}

// FindLineOdds searches a market's outcomes for an Over/Under pair whose
// point is within tolerance of the wanted line. It prefers the closest
// matching point and returns the matched point with both odds.
func FindLineOdds(m APIMarketOdds, line, tolerance float64) (matched, overOdds, underOdds float64, ok bool) {
	bestDist := math.Inf(1)
	for _, out := range m.Outcomes {
		if out.Name != "Over" {
			continue
		}
		dist := math.Abs(out.Point - line)
		if dist > tolerance || dist >= bestDist {
			continue
		}
		under, found := findOutcome(m.Outcomes, "Under", out.Point)
		if !found {
			continue
		}
		matched, overOdds, underOdds = out.Point, out.Price, under.Price
		bestDist = dist
		ok = true
	}
	return matched, overOdds, underOdds, ok
}

func findOutcome(outcomes []APIOutcome, name string, point float64) (APIOutcome, bool) {
	for _, out := range outcomes {
		if out.Name == name && out.Point == point {
			return out, true
		}
	}
	return APIOutcome{}, false
}

// GameKey builds the canonical "away@home" key used to join oracle games
// with Polymarket markets.
func (g *APIGame) GameKey() string {
	return g.AwayTeam + "@" + g.HomeTeam
}
