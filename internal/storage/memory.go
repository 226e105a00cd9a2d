package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dealmungchi/snipedeal/internal/model"
)

// StatisticsRecord is one persisted cycle aggregate
type StatisticsRecord struct {
	CampaignID int64
	Statistics model.Statistics
	CreatedAt  time.Time
}

// MemoryStore is an in-process Store, used for development and tests
type MemoryStore struct {
	mu         sync.RWMutex
	campaigns  map[int64]model.Campaign
	listings   []model.StoredListing
	byExternal map[int64]map[string]struct{}
	stats      []StatisticsRecord
	nextID     int64
	now        func() time.Time
}

// NewMemoryStore creates a store seeded with campaigns
func NewMemoryStore(campaigns ...model.Campaign) *MemoryStore {
	s := &MemoryStore{
		campaigns:  make(map[int64]model.Campaign),
		byExternal: make(map[int64]map[string]struct{}),
		now:        time.Now,
	}
	for _, c := range campaigns {
		s.campaigns[c.ID] = c
	}
	return s
}

// PutCampaign inserts or replaces a campaign
func (s *MemoryStore) PutCampaign(c model.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
}

// ActiveCampaigns implements Store
func (s *MemoryStore) ActiveCampaigns(_ context.Context) ([]model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Campaign
	for _, c := range s.campaigns {
		if c.Active {
			out = append(out, c)
		}
	}
	sortCampaigns(out)
	return out, nil
}

// Campaign implements Store
func (s *MemoryStore) Campaign(_ context.Context, id int64) (model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return model.Campaign{}, ErrNotFound
	}
	return c, nil
}

// ListCampaigns implements Store
func (s *MemoryStore) ListCampaigns(_ context.Context) ([]model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, c)
	}
	sortCampaigns(out)
	return out, nil
}

// RecordRun implements Store
func (s *MemoryStore) RecordRun(_ context.Context, id int64, at time.Time, failures int, deactivate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	c.LastRunAt = at
	c.ConsecutiveFailures = failures
	if deactivate {
		c.Active = false
	}
	s.campaigns[id] = c
	return nil
}

// SaveListings implements Store
func (s *MemoryStore) SaveListings(_ context.Context, campaignID int64, listings []model.Listing) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen, ok := s.byExternal[campaignID]
	if !ok {
		seen = make(map[string]struct{})
		s.byExternal[campaignID] = seen
	}

	inserted := 0
	for _, l := range listings {
		if _, dup := seen[l.ExternalID]; dup {
			continue
		}
		seen[l.ExternalID] = struct{}{}
		s.nextID++
		s.listings = append(s.listings, model.StoredListing{
			Listing:    l,
			ID:         s.nextID,
			CampaignID: campaignID,
			CreatedAt:  s.now(),
		})
		inserted++
	}
	return inserted, nil
}

// PendingListings implements Store
func (s *MemoryStore) PendingListings(_ context.Context, campaignID int64) ([]model.StoredListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.StoredListing
	for _, l := range s.listings {
		if l.CampaignID == campaignID && !l.Notified {
			out = append(out, l)
		}
	}
	return out, nil
}

// MarkNotified implements Store
func (s *MemoryStore) MarkNotified(_ context.Context, listingID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.listings {
		if s.listings[i].ID == listingID {
			s.listings[i].Notified = true
			return nil
		}
	}
	return ErrNotFound
}

// SaveStatistics implements Store
func (s *MemoryStore) SaveStatistics(_ context.Context, campaignID int64, stats model.Statistics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append(s.stats, StatisticsRecord{CampaignID: campaignID, Statistics: stats, CreatedAt: s.now()})
	return nil
}

// Listings returns every stored listing of a campaign
func (s *MemoryStore) Listings(campaignID int64) []model.StoredListing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.StoredListing
	for _, l := range s.listings {
		if l.CampaignID == campaignID {
			out = append(out, l)
		}
	}
	return out
}

// Statistics returns the aggregates recorded for a campaign
func (s *MemoryStore) Statistics(campaignID int64) []StatisticsRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StatisticsRecord
	for _, r := range s.stats {
		if r.CampaignID == campaignID {
			out = append(out, r)
		}
	}
	return out
}

// Close implements Store
func (s *MemoryStore) Close() error { return nil }

func sortCampaigns(cs []model.Campaign) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
}
