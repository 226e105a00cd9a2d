package model

import (
	"time"

	"github.com/dealmungchi/snipedeal/internal/price"
)

// Campaign is a saved search tracked independently of others
type Campaign struct {
	ID        int64         `json:"id" validate:"required,gt=0"`
	Keyword   string        `json:"keyword" validate:"required"`
	MinPrice  *float64      `json:"min_price,omitempty" validate:"omitempty,gte=0"`
	MaxPrice  *float64      `json:"max_price,omitempty" validate:"omitempty,gte=0"`
	PageLimit int           `json:"page_limit" validate:"gte=1"`
	Interval  time.Duration `json:"interval" validate:"gt=0"`
	Active    bool          `json:"active"`

	// Run state, the only fields the core writes back
	LastRunAt           time.Time `json:"last_run_at,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// HasPriceBound reports whether either bound is set
func (c Campaign) HasPriceBound() bool {
	return c.MinPrice != nil || c.MaxPrice != nil
}

// WithinBound reports whether p passes the campaign's price bound.
// Unusable prices never pass a set bound.
func (c Campaign) WithinBound(p price.Price) bool {
	if !c.HasPriceBound() {
		return true
	}
	if !p.Usable() {
		return false
	}
	v, _ := p.Value()
	if c.MinPrice != nil && v < *c.MinPrice {
		return false
	}
	if c.MaxPrice != nil && v > *c.MaxPrice {
		return false
	}
	return true
}

// RawListing is one candidate as extracted from a page, before normalization
type RawListing struct {
	ExternalID string
	Title      string
	PriceText  string
	Location   string
	Date       string
	URL        string
	Sold       bool
}

// Listing is one marketplace ad matching a campaign's search
type Listing struct {
	ExternalID string      `json:"external_id"`
	Title      string      `json:"title"`
	Price      price.Price `json:"price"`
	Location   string      `json:"location"`
	Date       string      `json:"date"`
	URL        string      `json:"url"`
	Sold       bool        `json:"sold"`
}

// StoredListing is a persisted listing with its delivery state
type StoredListing struct {
	Listing
	ID         int64     `json:"id"`
	CampaignID int64     `json:"campaign_id"`
	Notified   bool      `json:"notified"`
	CreatedAt  time.Time `json:"created_at"`
}

// PriceSummary aggregates usable prices of one group of listings
type PriceSummary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Avg    float64 `json:"avg"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
}

// Statistics is the per-cycle aggregate over new and already-seen listings
type Statistics struct {
	Total           int          `json:"total"`
	Available       int          `json:"available"`
	Sold            int          `json:"sold"`
	Ignored         int          `json:"ignored"`
	IgnoredPercent  float64      `json:"ignored_percent"`
	SellThroughRate float64      `json:"sell_through_rate"`
	Overall         PriceSummary `json:"overall"`
	AvailablePrices PriceSummary `json:"available_prices"`
	SoldPrices      PriceSummary `json:"sold_prices"`
}
