// Package pricefeed maintains the latest observed prices for asset pairs
// and serves them to sandboxed scripts through the price feed binding.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/pricefeed"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/storage"
	"github.com/r3e-network/neo-service-layer-sub007/pkg/logger"
)

const pricePrefix = "pricefeed/prices/"

// ErrPriceNotFound is returned when no quote exists for a pair.
var ErrPriceNotFound = fmt.Errorf("price not found")

// Service stores and serves prices. Writes come from the refresher or from
// operator updates; reads come from the price feed capability binding.
type Service struct {
	objects storage.ObjectStore
	log     *logger.Logger
}

// New constructs a price feed service.
func New(objects storage.ObjectStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("pricefeed")
	}
	return &Service{objects: objects, log: log}
}

func normalizePair(pair string) (string, error) {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	if pair == "" || !strings.Contains(pair, "/") {
		return "", fmt.Errorf("pair must look like BASE/QUOTE")
	}
	return pair, nil
}

// UpdatePrice records the latest quote for a pair.
func (s *Service) UpdatePrice(ctx context.Context, pair string, value float64, source string) (*pricefeed.Price, error) {
	normalized, err := normalizePair(pair)
	if err != nil {
		return nil, err
	}
	if value <= 0 {
		return nil, fmt.Errorf("price must be positive")
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = "manual"
	}

	price := &pricefeed.Price{
		Pair:      normalized,
		Value:     value,
		Source:    source,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(price)
	if err != nil {
		return nil, fmt.Errorf("marshal price %s: %w", normalized, err)
	}
	if err := s.objects.Put(ctx, pricePrefix+normalized, data); err != nil {
		return nil, fmt.Errorf("persist price %s: %w", normalized, err)
	}
	s.log.Debugf("price %s updated to %f (%s)", normalized, value, source)
	return price, nil
}

// GetPrice returns the latest quote for a pair.
func (s *Service) GetPrice(ctx context.Context, pair string) (*pricefeed.Price, error) {
	normalized, err := normalizePair(pair)
	if err != nil {
		return nil, err
	}
	data, err := s.objects.Get(ctx, pricePrefix+normalized)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrPriceNotFound
		}
		return nil, fmt.Errorf("load price %s: %w", normalized, err)
	}
	var price pricefeed.Price
	if err := json.Unmarshal(data, &price); err != nil {
		return nil, fmt.Errorf("decode price %s: %w", normalized, err)
	}
	return &price, nil
}

// ListPrices returns every stored quote.
func (s *Service) ListPrices(ctx context.Context) ([]*pricefeed.Price, error) {
	keys, err := s.objects.ListByPrefix(ctx, pricePrefix)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	prices := make([]*pricefeed.Price, 0, len(keys))
	for _, key := range keys {
		price, err := s.GetPrice(ctx, strings.TrimPrefix(key, pricePrefix))
		if err != nil {
			return nil, err
		}
		prices = append(prices, price)
	}
	return prices, nil
}
