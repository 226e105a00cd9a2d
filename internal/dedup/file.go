package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dealmungchi/snipedeal/logger"
	apperrors "github.com/dealmungchi/snipedeal/pkg/errors"
)

type seenSet struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

// FileStore keeps seen ids in a single JSON document, rewritten atomically
// on every change. Meant for development; use RedisStore in production.
type FileStore struct {
	path string
	opts options
	log  *logger.Logger

	mu        sync.Mutex // guards campaigns
	campaigns map[int64]*seenSet

	writeMu sync.Mutex
}

// OpenFileStore loads path, or starts empty when it does not exist yet
func OpenFileStore(path string, log *logger.Logger, opts ...Option) (*FileStore, error) {
	if log == nil {
		log = logger.ForDedup()
	}
	s := &FileStore{
		path:      path,
		opts:      buildOptions(opts),
		log:       log,
		campaigns: make(map[int64]*seenSet),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return apperrors.NewPersistence("dedup", "read seen file", err)
	}
	if len(data) == 0 {
		return nil
	}

	var doc map[string]map[string]time.Time
	if err := json.Unmarshal(data, &doc); err != nil {
		return apperrors.NewPersistence("dedup", "decode seen file", err)
	}
	for rawID, ids := range doc {
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			s.log.Warn().Str("campaign", rawID).Msg("Ignoring malformed campaign key in seen file")
			continue
		}
		s.campaigns[id] = &seenSet{ids: ids}
	}
	return nil
}

func (s *FileStore) set(campaignID int64) *seenSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.campaigns[campaignID]
	if !ok {
		set = &seenSet{ids: make(map[string]time.Time)}
		s.campaigns[campaignID] = set
	}
	return set
}

// IsNew implements Store
func (s *FileStore) IsNew(_ context.Context, campaignID int64, externalID string) (bool, error) {
	set := s.set(campaignID)
	set.mu.Lock()
	defer set.mu.Unlock()
	_, seen := set.ids[externalID]
	return !seen, nil
}

// MarkSeen implements Store
func (s *FileStore) MarkSeen(_ context.Context, campaignID int64, externalID string) error {
	set := s.set(campaignID)
	set.mu.Lock()
	if _, ok := set.ids[externalID]; ok {
		set.mu.Unlock()
		return nil
	}
	set.ids[externalID] = s.opts.now().UTC()
	set.mu.Unlock()
	return s.save()
}

// EvictOlderThan implements Store
func (s *FileStore) EvictOlderThan(_ context.Context, days int) (int, error) {
	limit := cutoff(s.opts.now(), days)

	s.mu.Lock()
	sets := make([]*seenSet, 0, len(s.campaigns))
	for _, set := range s.campaigns {
		sets = append(sets, set)
	}
	s.mu.Unlock()

	removed := 0
	for _, set := range sets {
		set.mu.Lock()
		for id, first := range set.ids {
			if first.Before(limit) {
				delete(set.ids, id)
				removed++
			}
		}
		set.mu.Unlock()
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save()
}

// Reset implements Store
func (s *FileStore) Reset(_ context.Context, campaignID int64) error {
	s.mu.Lock()
	delete(s.campaigns, campaignID)
	s.mu.Unlock()
	return s.save()
}

func (s *FileStore) snapshot() map[string]map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := make(map[string]map[string]time.Time, len(s.campaigns))
	for id, set := range s.campaigns {
		set.mu.Lock()
		ids := make(map[string]time.Time, len(set.ids))
		for k, v := range set.ids {
			ids[k] = v
		}
		set.mu.Unlock()
		doc[strconv.FormatInt(id, 10)] = ids
	}
	return doc
}

// save writes to a temp file and renames it over the target
func (s *FileStore) save() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := json.MarshalIndent(s.snapshot(), "", "  ")
	if err != nil {
		return apperrors.NewPersistence("dedup", "encode seen file", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.NewPersistence("dedup", "create seen dir", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return apperrors.NewPersistence("dedup", "create temp file", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return apperrors.NewPersistence("dedup", "write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return apperrors.NewPersistence("dedup", "close temp file", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return apperrors.NewPersistence("dedup", fmt.Sprintf("replace %s", s.path), err)
	}
	return nil
}
