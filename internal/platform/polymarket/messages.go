package polymarket

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// flexFloat unmarshals from a JSON number or a numeric string. The market
// feed sends prices and sizes as strings; REST responses mix both.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// wsLevel is one price level as sent on the feed.
type wsLevel struct {
	Price flexFloat `json:"price"`
	Size  flexFloat `json:"size"`
}

// wsEnvelope sniffs the common fields of every inbound object.
type wsEnvelope struct {
	EventType    string            `json:"event_type"`
	Market       string            `json:"market"`
	AssetID      string            `json:"asset_id"`
	Price        flexFloat         `json:"price"`
	PriceChanges []wsBatchedChange `json:"price_changes"`
	Bids         []wsLevel         `json:"bids"`
	Asks         []wsLevel         `json:"asks"`
	Timestamp    string            `json:"timestamp"`
}

// wsBatchedChange is one entry of a batched price_changes message.
type wsBatchedChange struct {
	AssetID string    `json:"asset_id"`
	Price   flexFloat `json:"price"`
	BestBid flexFloat `json:"best_bid"`
	BestAsk flexFloat `json:"best_ask"`
}

// FeedMessage is the decoded content of one inbound frame. Unknown frame
// types decode to an empty message.
type FeedMessage struct {
	Prices []domain.PriceUpdate
	Books  []domain.BookSnapshot
}

// ParseFeedMessage decodes a raw feed frame into price updates and book
// snapshots. Four shapes are understood: a batched object carrying
// price_changes, a legacy single price_change object, a single book object,
// and a bare JSON array of book objects. Anything else yields an empty
// message and no error; the feed is shared with message types this client
// does not care about.
func ParseFeedMessage(raw []byte, now time.Time) (FeedMessage, error) {
	var msg FeedMessage

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return msg, nil
	}

	if trimmed[0] == '[' {
		var envs []wsEnvelope
		if err := json.Unmarshal(trimmed, &envs); err != nil {
			return msg, err
		}
		for i := range envs {
			appendEnvelope(&msg, &envs[i], now)
		}
		return msg, nil
	}

	var env wsEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return msg, err
	}
	appendEnvelope(&msg, &env, now)
	return msg, nil
}

func appendEnvelope(msg *FeedMessage, env *wsEnvelope, now time.Time) {
	switch {
	case len(env.PriceChanges) > 0:
		for _, pc := range env.PriceChanges {
			if pc.AssetID == "" {
				continue
			}
			price := float64(pc.BestAsk)
			if price == 0 {
				price = float64(pc.Price)
			}
			if price == 0 {
				continue
			}
			msg.Prices = append(msg.Prices, domain.PriceUpdate{
				AssetID:   pc.AssetID,
				Price:     price,
				BestBid:   float64(pc.BestBid),
				BestAsk:   float64(pc.BestAsk),
				Timestamp: now,
			})
		}

	case env.EventType == "price_change":
		if env.AssetID == "" || float64(env.Price) == 0 {
			return
		}
		msg.Prices = append(msg.Prices, domain.PriceUpdate{
			AssetID:   env.AssetID,
			Price:     float64(env.Price),
			Timestamp: now,
		})

	case env.EventType == "book":
		snap := domain.BookSnapshot{
			AssetID:   env.AssetID,
			Bids:      toLevels(env.Bids),
			Asks:      toLevels(env.Asks),
			Timestamp: now,
		}
		msg.Books = append(msg.Books, snap)
	}
}

func toLevels(in []wsLevel) []domain.PriceLevel {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		out = append(out, domain.PriceLevel{
			Price: float64(l.Price),
			Size:  float64(l.Size),
		})
	}
	return out
}
