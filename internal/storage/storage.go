package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dealmungchi/snipedeal/internal/model"
)

// ErrNotFound is returned when a campaign or listing does not exist
var ErrNotFound = errors.New("storage: not found")

// Store is the campaign, listing and statistics contract the worker needs
type Store interface {
	// ActiveCampaigns returns campaigns with Active set, ordered by id
	ActiveCampaigns(ctx context.Context) ([]model.Campaign, error)

	// Campaign returns one campaign or ErrNotFound
	Campaign(ctx context.Context, id int64) (model.Campaign, error)

	// ListCampaigns returns every campaign, ordered by id
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)

	// RecordRun writes back a campaign's run state. The active flag is owned
	// by the configuration layer; deactivate only ever clears it.
	RecordRun(ctx context.Context, id int64, at time.Time, failures int, deactivate bool) error

	// SaveListings stores listings as not yet notified, all or nothing.
	// Listings already stored for the campaign are left untouched.
	SaveListings(ctx context.Context, campaignID int64, listings []model.Listing) (int, error)

	// PendingListings returns the campaign's listings not yet notified, oldest first
	PendingListings(ctx context.Context, campaignID int64) ([]model.StoredListing, error)

	// MarkNotified flips a listing's delivery state
	MarkNotified(ctx context.Context, listingID int64) error

	// SaveStatistics stores one cycle's aggregate
	SaveStatistics(ctx context.Context, campaignID int64, stats model.Statistics) error

	Close() error
}
