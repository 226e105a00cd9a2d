package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealmungchi/snipedeal/internal/model"
	"github.com/dealmungchi/snipedeal/internal/price"
	"github.com/dealmungchi/snipedeal/logger"
	apperrors "github.com/dealmungchi/snipedeal/pkg/errors"
)

func campaign(id int64, active bool) model.Campaign {
	return model.Campaign{ID: id, Keyword: "ps5", PageLimit: 1, Interval: 2 * time.Minute, Active: active}
}

func listing(id string, amount float64) model.Listing {
	return model.Listing{
		ExternalID: id,
		Title:      "PS5 " + id,
		Price:      price.Of(amount),
		Location:   "Milano",
		Date:       "Oggi",
		URL:        "https://www.subito.it/console/ps5-" + id + ".htm",
	}
}

// exerciseStore runs the contract checks shared by every backend.
// Campaigns 1 (active) and 2 (inactive) must exist.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	active, err := s.ActiveCampaigns(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(1), active[0].ID)

	all, err := s.ListCampaigns(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.Campaign(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)

	inserted, err := s.SaveListings(ctx, 1, []model.Listing{listing("a", 100), listing("b", 0), {
		ExternalID: "c", Title: "no price", URL: "https://x/c.htm",
	}})
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	inserted, err = s.SaveListings(ctx, 1, []model.Listing{listing("a", 100), listing("d", 50)})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted, "already stored listings are left untouched")

	pending, err := s.PendingListings(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 4)
	assert.Equal(t, "a", pending[0].ExternalID)
	assert.False(t, pending[2].Price.Available())

	require.NoError(t, s.MarkNotified(ctx, pending[0].ID))
	pending, err = s.PendingListings(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	other, err := s.PendingListings(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, other)

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordRun(ctx, 1, at, 3, false))
	c, err := s.Campaign(ctx, 1)
	require.NoError(t, err)
	assert.True(t, at.Equal(c.LastRunAt))
	assert.Equal(t, 3, c.ConsecutiveFailures)
	assert.True(t, c.Active, "recording a run leaves the active flag alone")

	require.NoError(t, s.RecordRun(ctx, 2, at, 0, false))
	c, err = s.Campaign(ctx, 2)
	require.NoError(t, err)
	assert.False(t, c.Active, "recording a run never reactivates a campaign")

	require.NoError(t, s.RecordRun(ctx, 1, at, 4, true))
	c, err = s.Campaign(ctx, 1)
	require.NoError(t, err)
	assert.False(t, c.Active)

	require.NoError(t, s.SaveStatistics(ctx, 1, model.Statistics{Total: 4, Available: 4}))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(campaign(1, true), campaign(2, false))
	exerciseStore(t, s)

	records := s.Statistics(1)
	require.Len(t, records, 1)
	assert.Equal(t, 4, records[0].Statistics.Total)
	assert.Len(t, s.Listings(1), 4)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set, skipping test")
	}
	ctx := context.Background()

	s, err := NewPostgresStore(ctx, dsn, 2, logger.Nop())
	if err != nil {
		t.Skipf("Postgres is not available: %v", err)
	}
	defer s.Close()

	_, err = s.pool.Exec(ctx, `TRUNCATE campaigns RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	require.NoError(t, s.UpsertCampaigns(ctx, []model.Campaign{campaign(1, true), campaign(2, false)}))

	exerciseStore(t, s)
}

func TestParseCampaigns(t *testing.T) {
	campaigns, err := ParseCampaigns([]byte(`
campaigns:
  - id: 7
    keyword: ps5
    min_price: 50
    max_price: 300
    page_limit: 3
    interval_minutes: 5
  - id: 8
    keyword: iphone
    active: false
`))
	require.NoError(t, err)
	require.Len(t, campaigns, 2)

	c := campaigns[0]
	assert.Equal(t, int64(7), c.ID)
	require.NotNil(t, c.MinPrice)
	assert.Equal(t, 50.0, *c.MinPrice)
	assert.Equal(t, 300.0, *c.MaxPrice)
	assert.Equal(t, 3, c.PageLimit)
	assert.Equal(t, 5*time.Minute, c.Interval)
	assert.True(t, c.Active)

	d := campaigns[1]
	assert.Nil(t, d.MinPrice)
	assert.Equal(t, 1, d.PageLimit)
	assert.Equal(t, 2*time.Minute, d.Interval)
	assert.False(t, d.Active)
}

func TestParseCampaignsRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing keyword": "campaigns:\n  - id: 1\n",
		"missing id":      "campaigns:\n  - keyword: ps5\n",
		"negative bound":  "campaigns:\n  - id: 1\n    keyword: ps5\n    min_price: -1\n",
		"inverted bound":  "campaigns:\n  - id: 1\n    keyword: ps5\n    min_price: 10\n    max_price: 5\n",
		"duplicate id":    "campaigns:\n  - id: 1\n    keyword: a\n  - id: 1\n    keyword: b\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCampaigns([]byte(doc))
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
		})
	}
}

func TestLoadCampaignsMissingFile(t *testing.T) {
	_, err := LoadCampaigns(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))
}
