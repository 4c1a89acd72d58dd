package storage

import (
	"context"
	"errors"
	"fmt"

	"competitor/scraper/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS scraping_runs (
	id                TEXT PRIMARY KEY,
	status            TEXT NOT NULL,
	search_terms      JSONB NOT NULL,
	min_per_origin    INT NOT NULL,
	current_origin    TEXT,
	completed_origins INT NOT NULL DEFAULT 0,
	total_origins     INT NOT NULL DEFAULT 0,
	products_found    INT NOT NULL DEFAULT 0,
	errors            JSONB NOT NULL DEFAULT '[]',
	submitted_at      TIMESTAMPTZ NOT NULL,
	started_at        TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS scraped_products (
	id               SERIAL PRIMARY KEY,
	store_name       TEXT,
	product_id       TEXT,
	title            TEXT,
	price            DOUBLE PRECISION,
	currency         TEXT,
	brand            TEXT,
	description      TEXT,
	image_url        TEXT,
	product_url      TEXT UNIQUE,
	in_stock         BOOLEAN,
	scraped_at       TIMESTAMPTZ,
	search_term      TEXT,
	match_score      DOUBLE PRECISION,
	match_confidence TEXT,
	match_reasoning  TEXT,
	raw_data         JSONB
);

CREATE TABLE IF NOT EXISTS scraped_product_history (
	seq         BIGSERIAL,
	run_id      TEXT NOT NULL REFERENCES scraping_runs(id) ON DELETE CASCADE,
	product_url TEXT NOT NULL,
	data        JSONB NOT NULL,
	PRIMARY KEY (run_id, product_url)
);`

const upsertRunSQL = `
INSERT INTO scraping_runs (
	id, status, search_terms, min_per_origin, current_origin,
	completed_origins, total_origins, products_found, errors,
	submitted_at, started_at, completed_at
) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	current_origin = EXCLUDED.current_origin,
	completed_origins = EXCLUDED.completed_origins,
	total_origins = EXCLUDED.total_origins,
	products_found = EXCLUDED.products_found,
	errors = EXCLUDED.errors,
	started_at = EXCLUDED.started_at,
	completed_at = EXCLUDED.completed_at`

const upsertProductSQL = `
INSERT INTO scraped_products (
	store_name, product_id, title, price, currency, brand,
	description, image_url, product_url, in_stock, scraped_at,
	search_term, match_score, match_confidence, match_reasoning, raw_data
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (product_url) DO UPDATE SET
	title = EXCLUDED.title,
	price = EXCLUDED.price,
	currency = EXCLUDED.currency,
	in_stock = EXCLUDED.in_stock,
	scraped_at = EXCLUDED.scraped_at,
	search_term = EXCLUDED.search_term,
	match_score = EXCLUDED.match_score,
	match_confidence = EXCLUDED.match_confidence,
	match_reasoning = EXCLUDED.match_reasoning,
	raw_data = EXCLUDED.raw_data`

const insertHistorySQL = `
INSERT INTO scraped_product_history (run_id, product_url, data)
VALUES ($1, $2, $3)
ON CONFLICT (run_id, product_url) DO UPDATE SET data = EXCLUDED.data`

const selectRunSQL = `
SELECT id, status, search_terms, min_per_origin, COALESCE(current_origin, ''),
	completed_origins, total_origins, products_found, errors,
	submitted_at, started_at, completed_at
FROM scraping_runs WHERE id = $1`

const selectHistorySQL = `
SELECT data FROM scraped_product_history WHERE run_id = $1 ORDER BY seq`

const selectLatestSQL = `
SELECT store_name, COALESCE(product_id, ''), title, price, currency, COALESCE(brand, ''),
	COALESCE(description, ''), COALESCE(image_url, ''), product_url, in_stock, scraped_at,
	COALESCE(search_term, ''), match_score, match_confidence, match_reasoning, raw_data
FROM scraped_products WHERE product_url = $1`

type postgresStorage struct {
	db *pgxpool.Pool
}

// NewPostgres ensures the schema exists and returns a pgxpool-backed Storage.
func NewPostgres(ctx context.Context, db *pgxpool.Pool) (Storage, error) {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &postgresStorage{db: db}, nil
}

func (r *postgresStorage) upsertRun(ctx context.Context, t domain.CrawlTask) error {
	errs := t.Errors
	if errs == nil {
		errs = []string{}
	}
	_, err := r.db.Exec(ctx, upsertRunSQL,
		t.ID, string(t.Status), t.SearchTerms, t.MinPerOrigin, t.CurrentOrigin,
		t.CompletedOrigins, t.TotalOrigins, t.ProductsFound, errs,
		t.SubmittedAt, t.StartedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", t.ID, err)
	}
	return nil
}

func (r *postgresStorage) CreateRun(ctx context.Context, task domain.CrawlTask) error {
	return r.upsertRun(ctx, task)
}

func (r *postgresStorage) UpdateRun(ctx context.Context, task domain.CrawlTask) error {
	return r.upsertRun(ctx, task)
}

func (r *postgresStorage) FinalizeRun(ctx context.Context, task domain.CrawlTask) error {
	return r.upsertRun(ctx, task)
}

func (r *postgresStorage) SaveProducts(ctx context.Context, runID string, products []domain.ProductRecord) error {
	if len(products) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(upsertProductSQL,
			p.Origin, p.ProductID, p.Title, p.Price, p.Currency, p.Brand,
			p.Description, p.ImageURL, p.ProductURL, p.InStock, p.ScrapedAt,
			p.SearchTerm, p.MatchScore, string(p.MatchConfidence), p.MatchReasoning, p.Metadata,
		)
		batch.Queue(insertHistorySQL, runID, p.ProductURL, p)
	}

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for range batch.Len() {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return err
			}
		}
		return br.Close()
	})
	if err != nil {
		return fmt.Errorf("failed to save %d products for run %s: %w", len(products), runID, err)
	}
	return nil
}

func (r *postgresStorage) ReadRun(ctx context.Context, runID string) (*Run, error) {
	var (
		t      domain.CrawlTask
		status string
	)
	err := r.db.QueryRow(ctx, selectRunSQL, runID).Scan(
		&t.ID, &status, &t.SearchTerms, &t.MinPerOrigin, &t.CurrentOrigin,
		&t.CompletedOrigins, &t.TotalOrigins, &t.ProductsFound, &t.Errors,
		&t.SubmittedAt, &t.StartedAt, &t.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	t.Status = domain.TaskStatus(status)

	rows, err := r.db.Query(ctx, selectHistorySQL, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read products for run %s: %w", runID, err)
	}
	products, err := pgx.CollectRows(rows, pgx.RowTo[domain.ProductRecord])
	if err != nil {
		return nil, fmt.Errorf("failed to decode products for run %s: %w", runID, err)
	}

	return &Run{Task: t, Products: products}, nil
}

func (r *postgresStorage) Latest(ctx context.Context, productURL string) (*domain.ProductRecord, error) {
	var (
		p          domain.ProductRecord
		confidence string
	)
	err := r.db.QueryRow(ctx, selectLatestSQL, productURL).Scan(
		&p.Origin, &p.ProductID, &p.Title, &p.Price, &p.Currency, &p.Brand,
		&p.Description, &p.ImageURL, &p.ProductURL, &p.InStock, &p.ScrapedAt,
		&p.SearchTerm, &p.MatchScore, &confidence, &p.MatchReasoning, &p.Metadata,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read latest product %s: %w", productURL, err)
	}
	p.MatchConfidence = domain.Confidence(confidence)
	return &p, nil
}

func (r *postgresStorage) Close() error {
	r.db.Close()
	return nil
}
