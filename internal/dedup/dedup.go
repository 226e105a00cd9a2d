package dedup

import (
	"context"
	"time"
)

// DefaultRetentionDays is how long a seen id is remembered
const DefaultRetentionDays = 7

// Store remembers which listing ids were already seen per campaign.
// Implementations are safe for concurrent use across campaigns.
type Store interface {
	// IsNew reports whether externalID was never marked seen for the campaign
	IsNew(ctx context.Context, campaignID int64, externalID string) (bool, error)

	// MarkSeen records externalID; the first-seen time is kept on repeat calls
	MarkSeen(ctx context.Context, campaignID int64, externalID string) error

	// EvictOlderThan drops records first seen more than days ago and
	// returns how many were removed
	EvictOlderThan(ctx context.Context, days int) (int, error)

	// Reset forgets every record of one campaign
	Reset(ctx context.Context, campaignID int64) error
}

// Option configures a store
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for first-seen timestamps
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func cutoff(now time.Time, days int) time.Time {
	if days < 0 {
		days = 0
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}
