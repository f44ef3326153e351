package polymarket

import (
	"encoding/json"
	"strings"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APITag is a tag entry on a Gamma event.
type APITag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets.
type APIEvent struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Slug    string      `json:"slug"`
	Active  flexBool    `json:"active"`
	Closed  flexBool    `json:"closed"`
	NegRisk bool        `json:"negRisk"`
	Tags    []APITag    `json:"tags"`
	Markets []APIMarket `json:"markets"`
}

// ToDomainEvent converts an APIEvent to a domain.Event.
func (e *APIEvent) ToDomainEvent() domain.Event {
	ev := domain.Event{
		ID:      e.ID,
		Slug:    e.Slug,
		Title:   e.Title,
		NegRisk: e.NegRisk,
	}
	for _, t := range e.Tags {
		if t.Label != "" {
			ev.Tags = append(ev.Tags, t.Label)
		}
	}
	for i := range e.Markets {
		// Some events carry the negative-risk flag only on their markets.
		if e.Markets[i].NegRisk {
			ev.NegRisk = true
		}
		ev.Markets = append(ev.Markets, e.Markets[i].ToDomainMarket())
	}
	return ev
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
// Outcomes and token ids arrive as JSON-encoded strings inside the JSON
// payload, e.g. "[\"Yes\",\"No\"]".
type APIMarket struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	Slug         string   `json:"slug"`
	Active       flexBool `json:"active"`
	Closed       flexBool `json:"closed"`
	NegRisk      bool     `json:"negRisk"`
	Outcomes     string   `json:"outcomes"`
	ClobTokenIDs string   `json:"clobTokenIds"`
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market, pairing each
// CLOB token id with its outcome label. Markets whose outcome and token
// counts disagree get only the ids both sides cover.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:       m.ID,
		Slug:     m.Slug,
		Question: m.Question,
		Active:   bool(m.Active),
		Closed:   bool(m.Closed),
	}

	outcomes := decodeStringArray(m.Outcomes)
	tokens := decodeStringArray(m.ClobTokenIDs)
	for i, tok := range tokens {
		outcome := ""
		if i < len(outcomes) {
			outcome = outcomes[i]
		}
		dm.Tokens = append(dm.Tokens, domain.OutcomeToken{
			TokenID: tok,
			Outcome: outcome,
		})
	}
	return dm
}

// decodeStringArray decodes a field that is either a JSON array or a
// JSON-encoded string containing an array.
func decodeStringArray(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIBook is the orderbook response from the CLOB /book endpoint.
type APIBook struct {
	AssetID string    `json:"asset_id"`
	Bids    []wsLevel `json:"bids"`
	Asks    []wsLevel `json:"asks"`
}

// ToDomainBook converts an APIBook to a domain.BookSnapshot.
func (b *APIBook) ToDomainBook() domain.BookSnapshot {
	return domain.BookSnapshot{
		AssetID: b.AssetID,
		Bids:    toLevels(b.Bids),
		Asks:    toLevels(b.Asks),
	}
}
