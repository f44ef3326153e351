package polymarket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

func TestGetBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" || r.URL.Query().Get("token_id") != "tok1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"asset_id": "tok1",
			"bids": [{"price": "0.40", "size": "100"}],
			"asks": [{"price": "0.47", "size": "30"}, {"price": "0.45", "size": "60"}]
		}`)
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL)
	book, err := c.GetBook(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if book.BestAsk() != 0.45 {
		t.Errorf("best ask = %v, want lowest ask 0.45", book.BestAsk())
	}
	if got := book.BestAskDepth(); got != 0.45*60 {
		t.Errorf("depth = %v, want %v", got, 0.45*60)
	}
}

func TestGetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/price" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("token_id") {
		case "live":
			fmt.Fprint(w, `{"price": "0.37"}`)
		default:
			fmt.Fprint(w, `{"price": "0"}`)
		}
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL)

	price, err := c.GetBestAsk(context.Background(), "live")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price != 0.37 {
		t.Errorf("price = %v, want 0.37", price)
	}

	if _, err := c.GetBestAsk(context.Background(), "empty"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("zero price err = %v, want ErrNotFound", err)
	}
}

func TestCheckHTTPStatus(t *testing.T) {
	if err := checkHTTPStatus(200, nil); err != nil {
		t.Errorf("200 should pass: %v", err)
	}
	if err := checkHTTPStatus(404, []byte("x")); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("404 = %v, want ErrNotFound", err)
	}
	if err := checkHTTPStatus(429, []byte("x")); !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("429 = %v, want ErrRateLimited", err)
	}
}
