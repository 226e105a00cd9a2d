package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealmungchi/snipedeal/internal/model"
	"github.com/dealmungchi/snipedeal/internal/price"
	"github.com/dealmungchi/snipedeal/logger"
	apperrors "github.com/dealmungchi/snipedeal/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS campaigns (
	id                   BIGSERIAL PRIMARY KEY,
	keyword              TEXT NOT NULL,
	min_price            DOUBLE PRECISION,
	max_price            DOUBLE PRECISION,
	page_limit           INTEGER NOT NULL DEFAULT 1,
	interval_minutes     DOUBLE PRECISION NOT NULL DEFAULT 2,
	active               BOOLEAN NOT NULL DEFAULT TRUE,
	last_run_at          TIMESTAMPTZ,
	consecutive_failures INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS listings (
	id          BIGSERIAL PRIMARY KEY,
	campaign_id BIGINT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	external_id TEXT NOT NULL,
	title       TEXT NOT NULL,
	price       DOUBLE PRECISION,
	location    TEXT NOT NULL DEFAULT '',
	date_text   TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL,
	sold        BOOLEAN NOT NULL DEFAULT FALSE,
	notified    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (campaign_id, external_id)
);

CREATE INDEX IF NOT EXISTS listings_pending_idx ON listings (campaign_id) WHERE NOT notified;

CREATE TABLE IF NOT EXISTS statistics (
	id                BIGSERIAL PRIMARY KEY,
	campaign_id       BIGINT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	total             INTEGER NOT NULL,
	available         INTEGER NOT NULL,
	sold              INTEGER NOT NULL,
	ignored           INTEGER NOT NULL,
	ignored_percent   DOUBLE PRECISION NOT NULL,
	sell_through_rate DOUBLE PRECISION NOT NULL,
	avg_price         DOUBLE PRECISION NOT NULL,
	min_price         DOUBLE PRECISION NOT NULL,
	max_price         DOUBLE PRECISION NOT NULL,
	median_price      DOUBLE PRECISION NOT NULL,
	avg_sold_price    DOUBLE PRECISION NOT NULL,
	avg_avail_price   DOUBLE PRECISION NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const campaignColumns = `id, keyword, min_price, max_price, page_limit, interval_minutes, active, last_run_at, consecutive_failures`

// PostgresStore implements Store on a pgx connection pool
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgresStore connects, applies the schema and returns the store
func NewPostgresStore(ctx context.Context, dsn string, maxConns int, log *logger.Logger) (*PostgresStore, error) {
	if log == nil {
		log = logger.ForStorage()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, apperrors.NewConfiguration("parse POSTGRES_DSN", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, apperrors.NewPersistence("storage", "connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.NewPersistence("storage", "ping", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, apperrors.NewPersistence("storage", "apply schema", err)
	}

	log.Info().Int("max_conns", maxConns).Msg("Connected to Postgres")
	return &PostgresStore{pool: pool, log: log}, nil
}

// UpsertCampaigns writes campaign definitions, keeping existing run state
func (s *PostgresStore) UpsertCampaigns(ctx context.Context, campaigns []model.Campaign) error {
	if len(campaigns) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, c := range campaigns {
		b.Queue(`
			INSERT INTO campaigns (id, keyword, min_price, max_price, page_limit, interval_minutes, active)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (id) DO UPDATE SET
				keyword = EXCLUDED.keyword,
				min_price = EXCLUDED.min_price,
				max_price = EXCLUDED.max_price,
				page_limit = EXCLUDED.page_limit,
				interval_minutes = EXCLUDED.interval_minutes,
				active = EXCLUDED.active`,
			c.ID, c.Keyword, c.MinPrice, c.MaxPrice, c.PageLimit, c.Interval.Minutes(), c.Active,
		)
	}
	// keep the id sequence ahead of explicit ids
	b.Queue(`SELECT setval(pg_get_serial_sequence('campaigns', 'id'), GREATEST((SELECT MAX(id) FROM campaigns), 1))`)

	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return apperrors.NewPersistence("storage", "upsert campaigns", err)
	}
	return nil
}

// ActiveCampaigns implements Store
func (s *PostgresStore) ActiveCampaigns(ctx context.Context) ([]model.Campaign, error) {
	return s.queryCampaigns(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE active ORDER BY id`)
}

// ListCampaigns implements Store
func (s *PostgresStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	return s.queryCampaigns(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY id`)
}

// Campaign implements Store
func (s *PostgresStore) Campaign(ctx context.Context, id int64) (model.Campaign, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Campaign{}, ErrNotFound
	}
	if err != nil {
		return model.Campaign{}, apperrors.NewPersistence("storage", "load campaign", err)
	}
	return c, nil
}

func (s *PostgresStore) queryCampaigns(ctx context.Context, query string) ([]model.Campaign, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, apperrors.NewPersistence("storage", "list campaigns", err)
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, apperrors.NewPersistence("storage", "scan campaign", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistence("storage", "list campaigns", err)
	}
	return out, nil
}

func scanCampaign(row pgx.Row) (model.Campaign, error) {
	var (
		c        model.Campaign
		minutes  float64
		lastRun  *time.Time
		failures int
	)
	err := row.Scan(&c.ID, &c.Keyword, &c.MinPrice, &c.MaxPrice, &c.PageLimit, &minutes, &c.Active, &lastRun, &failures)
	if err != nil {
		return model.Campaign{}, err
	}
	c.Interval = time.Duration(minutes * float64(time.Minute))
	if lastRun != nil {
		c.LastRunAt = *lastRun
	}
	c.ConsecutiveFailures = failures
	return c, nil
}

// RecordRun implements Store
func (s *PostgresStore) RecordRun(ctx context.Context, id int64, at time.Time, failures int, deactivate bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET last_run_at = $2, consecutive_failures = $3, active = active AND NOT $4 WHERE id = $1`,
		id, at, failures, deactivate)
	if err != nil {
		return apperrors.NewPersistence("storage", "record run", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveListings implements Store. The batch runs in one transaction so a
// failure leaves nothing behind.
func (s *PostgresStore) SaveListings(ctx context.Context, campaignID int64, listings []model.Listing) (int, error) {
	if len(listings) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, apperrors.NewPersistence("storage", "begin", err)
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, l := range listings {
		b.Queue(`
			INSERT INTO listings (campaign_id, external_id, title, price, location, date_text, url, sold)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (campaign_id, external_id) DO NOTHING`,
			campaignID, l.ExternalID, l.Title, nullablePrice(l.Price), l.Location, l.Date, l.URL, l.Sold,
		)
	}

	br := tx.SendBatch(ctx, b)
	inserted := 0
	for range listings {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, apperrors.NewPersistence("storage", "insert listing", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, apperrors.NewPersistence("storage", "insert listings", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, apperrors.NewPersistence("storage", "commit listings", err)
	}
	return inserted, nil
}

// PendingListings implements Store
func (s *PostgresStore) PendingListings(ctx context.Context, campaignID int64) ([]model.StoredListing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, campaign_id, external_id, title, price, location, date_text, url, sold, notified, created_at
		FROM listings
		WHERE campaign_id = $1 AND NOT notified
		ORDER BY id`, campaignID)
	if err != nil {
		return nil, apperrors.NewPersistence("storage", "load pending listings", err)
	}
	defer rows.Close()

	var out []model.StoredListing
	for rows.Next() {
		var (
			l      model.StoredListing
			amount *float64
		)
		if err := rows.Scan(&l.ID, &l.CampaignID, &l.ExternalID, &l.Title, &amount,
			&l.Location, &l.Date, &l.URL, &l.Sold, &l.Notified, &l.CreatedAt); err != nil {
			return nil, apperrors.NewPersistence("storage", "scan listing", err)
		}
		if amount != nil {
			l.Price = price.Of(*amount)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistence("storage", "load pending listings", err)
	}
	return out, nil
}

// MarkNotified implements Store
func (s *PostgresStore) MarkNotified(ctx context.Context, listingID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE listings SET notified = TRUE WHERE id = $1`, listingID)
	if err != nil {
		return apperrors.NewPersistence("storage", "mark notified", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveStatistics implements Store
func (s *PostgresStore) SaveStatistics(ctx context.Context, campaignID int64, st model.Statistics) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO statistics (campaign_id, total, available, sold, ignored, ignored_percent,
			sell_through_rate, avg_price, min_price, max_price, median_price, avg_sold_price, avg_avail_price)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		campaignID, st.Total, st.Available, st.Sold, st.Ignored, st.IgnoredPercent,
		st.SellThroughRate, st.Overall.Avg, st.Overall.Min, st.Overall.Max, st.Overall.Median,
		st.SoldPrices.Avg, st.AvailablePrices.Avg,
	)
	if err != nil {
		return apperrors.NewPersistence("storage", fmt.Sprintf("save statistics for campaign %d", campaignID), err)
	}
	return nil
}

// Close implements Store
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func nullablePrice(p price.Price) *float64 {
	v, ok := p.Value()
	if !ok {
		return nil
	}
	return &v
}
