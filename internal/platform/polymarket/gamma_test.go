package polymarket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

func TestGetAllActiveEventsPaginates(t *testing.T) {
	// 150 events: one full page of 100 and a short page of 50.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("closed") != "false" || q.Get("active") != "true" {
			t.Errorf("missing open-event filters: %s", r.URL.RawQuery)
		}
		offset, _ := strconv.Atoi(q.Get("offset"))
		limit, _ := strconv.Atoi(q.Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "[")
		n := 0
		for i := offset; i < 150 && n < limit; i, n = i+1, n+1 {
			if n > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"id":"ev%d","title":"Event %d","negRisk":true}`, i, i)
		}
		fmt.Fprint(w, "]")
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	events, err := g.GetAllActiveEvents(context.Background())
	if err != nil {
		t.Fatalf("get all events: %v", err)
	}
	if len(events) != 150 {
		t.Fatalf("got %d events, want 150", len(events))
	}
	if events[0].ID != "ev0" || events[149].ID != "ev149" {
		t.Errorf("pagination order broken: first=%s last=%s", events[0].ID, events[149].ID)
	}
	if !events[0].NegRisk {
		t.Error("negRisk flag lost in mapping")
	}
}

func TestGetEventBySlugDecodesTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("slug") != "nba-bos-lal-2026-01-15" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{
			"id": "ev1",
			"title": "Celtics vs Lakers",
			"slug": "nba-bos-lal-2026-01-15",
			"tags": [{"label": "Sports"}, {"label": "NBA"}],
			"markets": [{
				"id": "m1",
				"question": "Will the total be above 220.5?",
				"active": "true",
				"outcomes": "[\"Over\",\"Under\"]",
				"clobTokenIds": "[\"111\",\"222\"]"
			}]
		}]`)
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	ev, err := g.GetEventBySlug(context.Background(), "nba-bos-lal-2026-01-15")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if len(ev.Markets) != 1 {
		t.Fatalf("got %d markets, want 1", len(ev.Markets))
	}
	m := ev.Markets[0]
	if len(m.Tokens) != 2 {
		t.Fatalf("got %d tokens, want 2", len(m.Tokens))
	}
	if m.Tokens[0].TokenID != "111" || m.Tokens[0].Outcome != "Over" {
		t.Errorf("token[0] = %+v", m.Tokens[0])
	}
	if !m.Active {
		t.Error("string active flag not decoded")
	}
	if len(ev.Tags) != 2 || ev.Tags[1] != "NBA" {
		t.Errorf("tags = %v", ev.Tags)
	}
}

func TestGetEventBySlugNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	_, err := g.GetEventBySlug(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
