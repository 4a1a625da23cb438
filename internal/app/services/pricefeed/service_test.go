package pricefeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/storage/memory"
)

func TestService_UpdateAndGet(t *testing.T) {
	svc := New(memory.New(), nil)

	if _, err := svc.UpdatePrice(context.Background(), "neo/usd", 12.34, "test"); err != nil {
		t.Fatalf("update: %v", err)
	}

	price, err := svc.GetPrice(context.Background(), "NEO/USD")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if price.Value != 12.34 {
		t.Fatalf("unexpected value: %f", price.Value)
	}
	if price.Pair != "NEO/USD" {
		t.Fatalf("pair not normalised: %s", price.Pair)
	}

	if _, err := svc.GetPrice(context.Background(), "GAS/USD"); !errors.Is(err, ErrPriceNotFound) {
		t.Fatalf("expected price not found, got %v", err)
	}
	if _, err := svc.UpdatePrice(context.Background(), "bad pair", 1, ""); err == nil {
		t.Fatal("expected malformed pair error")
	}
	if _, err := svc.UpdatePrice(context.Background(), "NEO/USD", -1, ""); err == nil {
		t.Fatal("expected non-positive price error")
	}

	if _, err := svc.UpdatePrice(context.Background(), "GAS/USD", 5.6, "test"); err != nil {
		t.Fatalf("update second pair: %v", err)
	}
	prices, err := svc.ListPrices(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(prices) != 2 {
		t.Fatalf("expected 2 prices, got %d", len(prices))
	}
}

func TestHTTPFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pair") != "NEO/USD" {
			http.Error(w, "missing pair", http.StatusBadRequest)
			return
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"price":42.5}}`))
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(server.Client(), server.URL, "key", "data.price", nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	value, source, err := fetcher.Fetch(context.Background(), "NEO/USD")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if value != 42.5 {
		t.Fatalf("unexpected value: %f", value)
	}
	if source == "" {
		t.Fatal("source not reported")
	}
}

func TestHTTPFetcherMissingPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"other":1}`))
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(server.Client(), server.URL, "", "data.price", nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	if _, _, err := fetcher.Fetch(context.Background(), "NEO/USD"); err == nil {
		t.Fatal("expected missing path error")
	}
}
