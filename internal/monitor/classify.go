package monitor

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// teamAbbr maps full NBA team names, as The Odds API spells them, to the
// abbreviations Polymarket uses in game event slugs.
var teamAbbr = map[string]string{
	"Atlanta Hawks":          "atl",
	"Boston Celtics":         "bos",
	"Brooklyn Nets":          "bkn",
	"Charlotte Hornets":      "cha",
	"Chicago Bulls":          "chi",
	"Cleveland Cavaliers":    "cle",
	"Dallas Mavericks":       "dal",
	"Denver Nuggets":         "den",
	"Detroit Pistons":        "det",
	"Golden State Warriors":  "gsw",
	"Houston Rockets":        "hou",
	"Indiana Pacers":         "ind",
	"LA Clippers":            "lac",
	"Los Angeles Clippers":   "lac",
	"Los Angeles Lakers":     "lal",
	"Memphis Grizzlies":      "mem",
	"Miami Heat":             "mia",
	"Milwaukee Bucks":        "mil",
	"Minnesota Timberwolves": "min",
	"New Orleans Pelicans":   "nop",
	"New York Knicks":        "nyk",
	"Oklahoma City Thunder":  "okc",
	"Orlando Magic":          "orl",
	"Philadelphia 76ers":     "phi",
	"Phoenix Suns":           "phx",
	"Portland Trail Blazers": "por",
	"Sacramento Kings":       "sac",
	"San Antonio Spurs":      "sas",
	"Toronto Raptors":        "tor",
	"Utah Jazz":              "uta",
	"Washington Wizards":     "was",
}

// TeamAbbr returns the Polymarket slug abbreviation for a full team name.
func TeamAbbr(team string) (string, bool) {
	abbr, ok := teamAbbr[team]
	return abbr, ok
}

// MakeGameSlug builds the Polymarket event slug for an NBA game:
// "nba-<away>-<home>-<date>", with the date taken in Eastern time since
// Polymarket slugs games by their local calendar day. Returns "" when either
// team name is unknown.
func MakeGameSlug(awayTeam, homeTeam string, commence time.Time, loc *time.Location) string {
	away, okAway := teamAbbr[awayTeam]
	home, okHome := teamAbbr[homeTeam]
	if !okAway || !okHome {
		return ""
	}
	return "nba-" + away + "-" + home + "-" + commence.In(loc).Format("2006-01-02")
}

// playerPropKeywords mark per-player stat markets inside a game event.
var playerPropKeywords = []string{
	"points o/u", "rebounds o/u", "assists o/u",
	"threes o/u", "steals o/u", "blocks o/u",
}

// periodKeywords mark half and quarter markets, which do not track the
// full-game oracle line.
var periodKeywords = []string{
	"1h", "1q", "2q", "3q", "4q", "first half", "first quarter",
}

// ClassifyMarket buckets a market inside an NBA game event by its question
// text and slug. Period and player-prop markets classify first so a "1H
// Total" question never counts as a full-game total.
func ClassifyMarket(question, slug string) domain.MarketType {
	q := strings.ToLower(question)
	s := strings.ToLower(slug)

	for _, kw := range playerPropKeywords {
		if strings.Contains(q, kw) {
			return domain.MarketPlayerProp
		}
	}
	for _, kw := range periodKeywords {
		if strings.Contains(q, kw) {
			return domain.MarketOther
		}
	}
	switch {
	case strings.Contains(q, "o/u") || strings.Contains(s, "total"):
		return domain.MarketTotal
	case strings.Contains(q, "spread") || strings.Contains(s, "spread"):
		return domain.MarketSpread
	case strings.Contains(q, " vs") || strings.Contains(q, " vs."):
		return domain.MarketMoneyline
	default:
		return domain.MarketOther
	}
}

// Polymarket encodes half-point lines as "228pt5" in slugs; questions carry
// the plain decimal form "228.5".
var (
	totalPtPattern  = regexp.MustCompile(`(\d{2,3})pt(\d)`)
	totalDecPattern = regexp.MustCompile(`(\d{2,3}\.\d)`)
)

// ExtractTotalLine pulls the totals line out of a market question or slug.
// Returns 0 when no line is found.
func ExtractTotalLine(text string) float64 {
	if m := totalPtPattern.FindStringSubmatch(text); m != nil {
		maj, errMaj := strconv.ParseFloat(m[1], 64)
		min, errMin := strconv.ParseFloat(m[2], 64)
		if errMaj == nil && errMin == nil {
			return maj + min/10
		}
	}
	if m := totalDecPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v
		}
	}
	return 0
}

// minMultiOutcomeMarkets is the smallest outcome count worth tracking for
// rebalance: with two outcomes the YES/NO pair of a single binary market
// already covers it.
const minMultiOutcomeMarkets = 3

// IsSportsEvent reports whether the event carries the Sports tag.
func IsSportsEvent(ev *domain.Event) bool {
	return hasTag(ev, "Sports")
}

// IsNBAGameEvent reports whether the event is a single NBA game: a sports
// event tagged or titled NBA that is not a negative-risk multi-outcome
// structure.
func IsNBAGameEvent(ev *domain.Event) bool {
	if ev.NegRisk || !IsSportsEvent(ev) {
		return false
	}
	return hasTag(ev, "NBA") || strings.Contains(strings.ToLower(ev.Title), "nba")
}

func hasTag(ev *domain.Event, tag string) bool {
	for _, t := range ev.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// ExtractYesTokens returns the YES-side token of every open market in the
// event, one per market, labeled with the market question so multi-outcome
// events read as "first token of each candidate market". Markets with no
// tokens are skipped.
func ExtractYesTokens(ev *domain.Event) []domain.OutcomeToken {
	var tokens []domain.OutcomeToken
	for i := range ev.Markets {
		m := &ev.Markets[i]
		if m.Closed || len(m.Tokens) == 0 {
			continue
		}
		tok := m.Tokens[0]
		outcome := m.Question
		if outcome == "" {
			outcome = tok.Outcome
		}
		tokens = append(tokens, domain.OutcomeToken{
			TokenID: tok.TokenID,
			Outcome: outcome,
		})
	}
	return tokens
}

// IsRebalanceCandidate reports whether the event should be tracked as a
// multi-outcome rebalance target: a negative-risk event with at least
// minMultiOutcomeMarkets open markets.
func IsRebalanceCandidate(ev *domain.Event, sportsOnly bool) bool {
	if !ev.NegRisk {
		return false
	}
	if sportsOnly && !IsSportsEvent(ev) {
		return false
	}
	open := 0
	for i := range ev.Markets {
		if !ev.Markets[i].Closed && len(ev.Markets[i].Tokens) > 0 {
			open++
		}
	}
	return open >= minMultiOutcomeMarkets
}

// titleTeams splits a matchup title like "Lakers vs. Celtics" into its two
// team labels. Returns nil when the title is not a two-team matchup.
func titleTeams(title string) []string {
	for _, sep := range []string{" vs. ", " vs ", " @ "} {
		if i := strings.Index(title, sep); i > 0 {
			return []string{title[:i], title[i+len(sep):]}
		}
	}
	return nil
}

// MatchTeamName resolves an oracle team name against a list of candidate
// names, tolerating abbreviation and city-only variants. It returns the
// matched candidate or "".
func MatchTeamName(oracle string, candidates []string) string {
	oracleLower := strings.ToLower(oracle)
	for _, c := range candidates {
		if strings.EqualFold(c, oracle) {
			return c
		}
	}
	for _, c := range candidates {
		cl := strings.ToLower(c)
		if strings.Contains(oracleLower, cl) || strings.Contains(cl, oracleLower) {
			return c
		}
	}
	// Last word of a team name is the nickname ("Lakers"), which survives
	// most spelling variants.
	parts := strings.Fields(oracleLower)
	if len(parts) == 0 {
		return ""
	}
	nickname := parts[len(parts)-1]
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c), nickname) {
			return c
		}
	}
	return ""
}
