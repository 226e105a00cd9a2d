package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dealmungchi/snipedeal/internal/dedup"
	"github.com/dealmungchi/snipedeal/internal/model"
	"github.com/dealmungchi/snipedeal/internal/orchestrator"
	"github.com/dealmungchi/snipedeal/internal/storage"
	"github.com/dealmungchi/snipedeal/logger"
	"github.com/dealmungchi/snipedeal/services/publisher"
)

// ErrCycleInProgress is returned by RunOnce while the campaign's cycle runs
var ErrCycleInProgress = errors.New("scheduler: cycle already in progress")

// Runner executes one cycle
type Runner interface {
	Run(ctx context.Context, campaign model.Campaign) orchestrator.CycleResult
}

// Config controls the scheduler's timers
type Config struct {
	// RefreshInterval is how often the active campaign list is re-read
	RefreshInterval time.Duration
	// EvictionInterval is how often seen ids are evicted and streams trimmed
	EvictionInterval time.Duration
	RetentionDays    int
}

// Scheduler runs one goroutine per active campaign. Cycles of the same
// campaign never overlap.
type Scheduler struct {
	cfg       Config
	store     storage.Store
	runner    Runner
	seen      dedup.Store
	publisher publisher.Publisher
	log       *logger.Logger

	mu      sync.Mutex
	locks   map[int64]*sync.Mutex
	running map[int64]bool
}

// New creates a scheduler; seen and pub may be nil
func New(cfg Config, store storage.Store, runner Runner, seen dedup.Store, pub publisher.Publisher, log *logger.Logger) *Scheduler {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Minute
	}
	if cfg.EvictionInterval <= 0 {
		cfg.EvictionInterval = 24 * time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = dedup.DefaultRetentionDays
	}
	if log == nil {
		log = logger.ForScheduler()
	}
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		runner:    runner,
		seen:      seen,
		publisher: pub,
		log:       log,
		locks:     make(map[int64]*sync.Mutex),
		running:   make(map[int64]bool),
	}
}

// Start blocks until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.maintain(ctx)
		return nil
	})
	g.Go(func() error {
		s.supervise(ctx, g)
		return nil
	})

	s.log.Info().Dur("refresh", s.cfg.RefreshInterval).Msg("Scheduler started")
	err := g.Wait()
	s.log.Info().Msg("Scheduler stopped")
	return err
}

// supervise starts a loop for every active campaign without one
func (s *Scheduler) supervise(ctx context.Context, g *errgroup.Group) {
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		campaigns, err := s.store.ActiveCampaigns(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("Listing active campaigns failed")
		}
		for _, c := range campaigns {
			if !s.claim(c.ID) {
				continue
			}
			id := c.ID
			g.Go(func() error {
				defer s.release(id)
				s.loop(ctx, id)
				return nil
			})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// loop runs cycles for one campaign until it is deactivated, deleted or ctx ends
func (s *Scheduler) loop(ctx context.Context, id int64) {
	log := s.log.WithField("campaign_id", id)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Campaign loop crashed, restarting on next refresh")
		}
	}()

	log.Info().Msg("Campaign loop started")
	for {
		c, err := s.store.Campaign(ctx, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			log.Info().Msg("Campaign deleted, loop stopped")
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("Loading campaign failed")
			if !sleep(ctx, s.cfg.RefreshInterval) {
				return
			}
			continue
		case !c.Active:
			log.Info().Msg("Campaign inactive, loop stopped")
			return
		}

		if _, err := s.runLocked(ctx, c); errors.Is(err, ErrCycleInProgress) {
			log.Debug().Msg("Manual cycle in progress, skipping")
		}

		if !sleep(ctx, c.Interval) {
			return
		}
	}
}

// RunOnce runs a cycle immediately, outside the campaign's schedule
func (s *Scheduler) RunOnce(ctx context.Context, id int64) (orchestrator.CycleResult, error) {
	c, err := s.store.Campaign(ctx, id)
	if err != nil {
		return orchestrator.CycleResult{}, fmt.Errorf("load campaign %d: %w", id, err)
	}
	return s.runLocked(ctx, c)
}

func (s *Scheduler) runLocked(ctx context.Context, c model.Campaign) (orchestrator.CycleResult, error) {
	lock := s.lock(c.ID)
	if !lock.TryLock() {
		return orchestrator.CycleResult{}, ErrCycleInProgress
	}
	defer lock.Unlock()
	return s.runner.Run(ctx, c), nil
}

// Running reports whether a loop is active for the campaign
func (s *Scheduler) Running(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[id]
}

// maintain evicts old seen ids and trims result streams, once at start and
// then every EvictionInterval.
func (s *Scheduler) maintain(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.EvictionInterval)
	defer ticker.Stop()

	for {
		s.evict(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) evict(ctx context.Context) {
	if s.seen != nil {
		removed, err := s.seen.EvictOlderThan(ctx, s.cfg.RetentionDays)
		if err != nil {
			s.log.Error().Err(err).Msg("Seen id eviction failed")
		} else {
			s.log.Info().Int("removed", removed).Int("retention_days", s.cfg.RetentionDays).Msg("Seen ids evicted")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.TrimStreams(ctx); err != nil {
			s.log.Error().Err(err).Msg("Stream trimming failed")
		}
	}
}

func (s *Scheduler) lock(id int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Scheduler) claim(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[id] {
		return false
	}
	s.running[id] = true
	return true
}

func (s *Scheduler) release(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
