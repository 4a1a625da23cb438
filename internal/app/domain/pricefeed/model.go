package pricefeed

import "time"

// Price is the latest observed quote for an asset pair such as "NEO/USD".
type Price struct {
	Pair      string    `json:"pair"`
	Value     float64   `json:"value"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}
