// Package orchestrator runs one search cycle for a campaign: pagination,
// filtering, persistence, notification and statistics.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dealmungchi/snipedeal/internal/dedup"
	"github.com/dealmungchi/snipedeal/internal/extractor"
	"github.com/dealmungchi/snipedeal/internal/fetcher"
	"github.com/dealmungchi/snipedeal/internal/model"
	"github.com/dealmungchi/snipedeal/internal/notifier"
	"github.com/dealmungchi/snipedeal/internal/price"
	"github.com/dealmungchi/snipedeal/internal/storage"
	"github.com/dealmungchi/snipedeal/logger"
	apperrors "github.com/dealmungchi/snipedeal/pkg/errors"
	"github.com/dealmungchi/snipedeal/services/publisher"
)

// State is a step of the cycle state machine
type State string

const (
	StateInit       State = "init"
	StatePaginating State = "paginating"
	StateFiltering  State = "filtering"
	StatePersisting State = "persisting"
	StateNotifying  State = "notifying"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// DefaultPageSize is the marketplace's nominal number of results per page
const DefaultPageSize = 20

// PageFetcher fetches one search result page
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Response, error)
}

// Config holds the process-wide cycle settings
type Config struct {
	SearchURL string
	PageSize  int
	// AllowSynthetic substitutes a flagged demo dataset when no page could be fetched
	AllowSynthetic bool
	// MaxConsecutiveFailures deactivates a campaign after that many failed cycles; 0 disables
	MaxConsecutiveFailures int
}

// CycleResult summarizes one cycle
type CycleResult struct {
	RunID          string           `json:"run_id"`
	CampaignID     int64            `json:"campaign_id"`
	Keyword        string           `json:"keyword"`
	State          State            `json:"state"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
	PagesFetched   int              `json:"pages_fetched"`
	Candidates     int              `json:"candidates"`
	OutOfBound     int              `json:"out_of_bound"`
	New            int              `json:"new"`
	AlreadySeen    int              `json:"already_seen"`
	Persisted      int              `json:"persisted"`
	Delivered      int              `json:"delivered"`
	DeliveryFailed int              `json:"delivery_failed"`
	Statistics     model.Statistics `json:"statistics"`
	Synthetic      bool             `json:"synthetic"`
	Err            error            `json:"-"`
	Error          string           `json:"error,omitempty"`
}

// Failed reports whether the cycle counts against the campaign's failure streak
func (r CycleResult) Failed() bool {
	return r.State == StateFailed || r.Synthetic
}

// Orchestrator drives cycles; one instance is shared by all campaigns
type Orchestrator struct {
	cfg       Config
	fetcher   PageFetcher
	extractor extractor.Extractor
	seen      dedup.Store
	store     storage.Store
	notifier  notifier.Notifier
	publisher publisher.Publisher
	log       *logger.Logger
	now       func() time.Time
	rnd       *rand.Rand
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithPublisher sends every CycleResult to p
func WithPublisher(p publisher.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithLogger sets the base logger; campaign and run ids are added per cycle
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator
func New(cfg Config, f PageFetcher, x extractor.Extractor, seen dedup.Store, store storage.Store, n notifier.Notifier, opts ...Option) *Orchestrator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	o := &Orchestrator{
		cfg:       cfg,
		fetcher:   f,
		extractor: x,
		seen:      seen,
		store:     store,
		notifier:  n,
		now:       time.Now,
		rnd:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// cycle carries the working state of one run
type cycle struct {
	campaign    model.Campaign
	log         *logger.Logger
	result      *CycleResult
	candidates  []model.RawListing
	fresh       []model.Listing
	alreadySeen []model.Listing
}

// Run executes one cycle for campaign and records its outcome
func (o *Orchestrator) Run(ctx context.Context, campaign model.Campaign) CycleResult {
	result := CycleResult{
		RunID:      uuid.NewString(),
		CampaignID: campaign.ID,
		Keyword:    campaign.Keyword,
		State:      StateInit,
		StartedAt:  o.now(),
	}
	c := &cycle{
		campaign: campaign,
		log:      o.cycleLogger(campaign.ID).WithField("run_id", result.RunID),
		result:   &result,
	}

	c.log.Info().Str("keyword", campaign.Keyword).Int("page_limit", campaign.PageLimit).Msg("Cycle started")

	if err := o.execute(ctx, c); err != nil {
		result.State = StateFailed
		result.Err = err
		result.Error = err.Error()
		c.log.Error().Err(err).Msg("Cycle failed")
	} else {
		result.State = StateDone
	}
	result.FinishedAt = o.now()

	o.finish(context.WithoutCancel(ctx), c)
	return result
}

func (o *Orchestrator) cycleLogger(campaignID int64) *logger.Logger {
	if o.log == nil {
		return logger.ForOrchestrator(campaignID)
	}
	return o.log.WithField("campaign_id", campaignID)
}

func (o *Orchestrator) execute(ctx context.Context, c *cycle) error {
	c.result.State = StatePaginating
	pageErr := o.paginate(ctx, c)
	if c.result.PagesFetched == 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !o.cfg.AllowSynthetic {
			return fmt.Errorf("no search page could be fetched: %w", pageErr)
		}
		o.synthesize(c)
		return nil
	}

	c.result.State = StateFiltering
	if err := o.filter(ctx, c); err != nil {
		return err
	}
	c.result.Statistics = o.statistics(ctx, c, append(append([]model.Listing(nil), c.fresh...), c.alreadySeen...))

	c.result.State = StatePersisting
	if err := o.persist(ctx, c); err != nil {
		return err
	}

	c.result.State = StateNotifying
	o.notify(ctx, c)
	return nil
}

// paginate fetches pages sequentially until a short or empty page, the
// page limit, or a failed fetch. It returns the last fetch error.
func (o *Orchestrator) paginate(ctx context.Context, c *cycle) error {
	limit := c.campaign.PageLimit
	if limit < 1 {
		limit = 1
	}

	var lastErr error
	for page := 1; page <= limit; page++ {
		pageURL := o.searchURL(c.campaign.Keyword, page)

		resp, err := o.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Int("page", page).Msg("Page fetch failed")
			break
		}
		c.result.PagesFetched++

		raws, err := o.extractor.Extract(resp.Body)
		if err != nil {
			c.log.Warn().Err(err).Int("page", page).Msg("Page extraction failed")
			break
		}
		c.candidates = append(c.candidates, raws...)
		c.log.Debug().Int("page", page).Int("candidates", len(raws)).Msg("Page extracted")

		if len(raws) < o.cfg.PageSize {
			break
		}
	}
	c.result.Candidates = len(c.candidates)
	return lastErr
}

func (o *Orchestrator) searchURL(keyword string, page int) string {
	sep := "?"
	if strings.Contains(o.cfg.SearchURL, "?") {
		sep = "&"
	}
	return o.cfg.SearchURL + sep + "q=" + url.QueryEscape(keyword) + "&o=" + strconv.Itoa(page)
}

// filter normalizes prices, applies the price bound and partitions the rest
// into fresh and already seen listings.
func (o *Orchestrator) filter(ctx context.Context, c *cycle) error {
	inCycle := make(map[string]struct{}, len(c.candidates))
	for _, raw := range c.candidates {
		l := model.Listing{
			ExternalID: raw.ExternalID,
			Title:      raw.Title,
			Price:      price.Normalize(raw.PriceText),
			Location:   raw.Location,
			Date:       raw.Date,
			URL:        raw.URL,
			Sold:       raw.Sold,
		}
		if !c.campaign.WithinBound(l.Price) {
			c.result.OutOfBound++
			continue
		}
		if _, dup := inCycle[l.ExternalID]; dup {
			continue
		}
		inCycle[l.ExternalID] = struct{}{}

		isNew, err := o.seen.IsNew(ctx, c.campaign.ID, l.ExternalID)
		if err != nil {
			return fmt.Errorf("dedup lookup for %s: %w", l.ExternalID, err)
		}
		if isNew {
			c.fresh = append(c.fresh, l)
		} else {
			c.alreadySeen = append(c.alreadySeen, l)
		}
	}
	c.result.New = len(c.fresh)
	c.result.AlreadySeen = len(c.alreadySeen)
	c.log.Info().
		Int("candidates", c.result.Candidates).
		Int("out_of_bound", c.result.OutOfBound).
		Int("new", c.result.New).
		Int("already_seen", c.result.AlreadySeen).
		Msg("Listings filtered")
	return nil
}

// persist stores fresh listings, then marks them seen. Nothing is marked
// seen when the write fails.
func (o *Orchestrator) persist(ctx context.Context, c *cycle) error {
	if len(c.fresh) == 0 {
		return nil
	}
	inserted, err := o.store.SaveListings(ctx, c.campaign.ID, c.fresh)
	if err != nil {
		return apperrors.NewPersistence("orchestrator", "save listings", err)
	}
	c.result.Persisted = inserted

	// the listings are committed; a cancelled cycle must still record them seen
	ctx = context.WithoutCancel(ctx)
	for _, l := range c.fresh {
		if err := o.seen.MarkSeen(ctx, c.campaign.ID, l.ExternalID); err != nil {
			// the stored row dedups a retry; the listing is not notified twice
			c.log.Warn().Err(err).Str("external_id", l.ExternalID).Msg("Mark seen failed")
		}
	}
	return nil
}

// notify delivers every pending listing of the campaign, including leftovers
// from earlier cycles. One failure never blocks the others.
func (o *Orchestrator) notify(ctx context.Context, c *cycle) {
	if !o.notifier.Configured() {
		c.log.Warn().Err(notifier.ErrNotConfigured).Msg("Notifications skipped")
		return
	}

	pending, err := o.store.PendingListings(ctx, c.campaign.ID)
	if err != nil {
		c.log.Error().Err(err).Msg("Loading pending listings failed")
		return
	}

	for _, l := range pending {
		if ctx.Err() != nil {
			return
		}
		out := o.notifier.Notify(ctx, l.Listing)
		if !out.Delivered {
			c.result.DeliveryFailed++
			c.log.Warn().Int64("listing_id", l.ID).Str("reason", out.Reason).Msg("Delivery failed, will retry next cycle")
			continue
		}
		c.result.Delivered++
		// delivery is confirmed; record it even when the cycle is cancelled
		if err := o.store.MarkNotified(context.WithoutCancel(ctx), l.ID); err != nil {
			c.log.Error().Err(err).Int64("listing_id", l.ID).Msg("Mark notified failed")
		}
	}
	if len(pending) > 0 {
		c.log.Info().
			Int("delivered", c.result.Delivered).
			Int("failed", c.result.DeliveryFailed).
			Msg("Notifications sent")
	}
}

func (o *Orchestrator) statistics(ctx context.Context, c *cycle, listings []model.Listing) model.Statistics {
	st := ComputeStatistics(listings)
	if err := o.store.SaveStatistics(ctx, c.campaign.ID, st); err != nil {
		c.log.Warn().Err(err).Msg("Saving statistics failed")
	}
	return st
}

// synthesize fills the result with a flagged demo dataset. Synthetic
// listings are never persisted, marked seen or notified.
func (o *Orchestrator) synthesize(c *cycle) {
	count := c.campaign.PageLimit * o.cfg.PageSize / 2
	if count < 5 {
		count = 5
	}
	listings := syntheticListings(c.campaign.Keyword, count, o.rnd)

	c.result.Synthetic = true
	c.result.Candidates = len(listings)
	c.result.Statistics = ComputeStatistics(listings)
	c.log.Warn().Int("listings", len(listings)).Msg("No page fetched, reporting synthetic results")
}

// finish writes back run state and publishes the result
func (o *Orchestrator) finish(ctx context.Context, c *cycle) {
	r := c.result
	failures := 0
	switch {
	case errors.Is(r.Err, context.Canceled):
		// shutdown is not the campaign's fault
		failures = c.campaign.ConsecutiveFailures
	case r.Failed():
		failures = c.campaign.ConsecutiveFailures + 1
	}
	deactivate := o.cfg.MaxConsecutiveFailures > 0 && failures >= o.cfg.MaxConsecutiveFailures
	if deactivate {
		c.log.Warn().Int("failures", failures).Msg("Deactivating campaign after repeated failures")
	}

	if err := o.store.RecordRun(ctx, c.campaign.ID, r.FinishedAt, failures, deactivate); err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.log.Error().Err(err).Msg("Recording run state failed")
	}

	c.log.Info().
		Str("state", string(r.State)).
		Int("new", r.New).
		Int("delivered", r.Delivered).
		Bool("synthetic", r.Synthetic).
		Dur("elapsed", r.FinishedAt.Sub(r.StartedAt)).
		Msg("Cycle finished")

	if o.publisher == nil {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		c.log.Error().Err(err).Msg("Encoding cycle result failed")
		return
	}
	if err := o.publisher.Publish(ctx, strconv.FormatInt(r.CampaignID, 10), data); err != nil {
		c.log.Error().Err(err).Msg("Publishing cycle result failed")
	}
}
