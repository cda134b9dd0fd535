package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleet-route-service/internal/ports"
)

// SQLDistanceCache is a Postgres-backed cache of pair-key -> distance
// results. Keys are expected to be consistent (domain.Key output) so the
// same pair always hits the same row.
type SQLDistanceCache struct {
	DB *sql.DB
}

func NewSQLDistanceCache(db *sql.DB) *SQLDistanceCache {
	return &SQLDistanceCache{DB: db}
}

// InitSchema creates the cache table when missing.
func (s *SQLDistanceCache) InitSchema(ctx context.Context) error {
	if s.DB == nil {
		return errors.New("distance cache: db is nil")
	}
	q := `
	CREATE TABLE IF NOT EXISTS distance_cache (
		pair_key   TEXT PRIMARY KEY,
		value      JSONB NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);`
	if _, err := s.DB.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("distance cache: init schema: %w", err)
	}
	return nil
}

func (s *SQLDistanceCache) Get(ctx context.Context, key string) (ports.DistanceResult, bool, error) {
	if s.DB == nil {
		return ports.DistanceResult{}, false, errors.New("distance cache: db is nil")
	}
	q := `SELECT value FROM distance_cache WHERE pair_key = $1 AND expires_at > now();`
	var raw []byte
	err := s.DB.QueryRowContext(ctx, q, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.DistanceResult{}, false, nil
	}
	if err != nil {
		return ports.DistanceResult{}, false, fmt.Errorf("get distance cache: query: %w", err)
	}
	var out ports.DistanceResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return ports.DistanceResult{}, false, fmt.Errorf("get distance cache: decode value: %w", err)
	}
	return out, true, nil
}

// Fetch the cached subset of the given pair keys.
func (s *SQLDistanceCache) GetMany(ctx context.Context, keys []string) (map[string]ports.DistanceResult, error) {
	if s.DB == nil {
		return nil, errors.New("distance cache: db is nil")
	}
	if len(keys) == 0 {
		return map[string]ports.DistanceResult{}, nil
	}

	seen := map[string]struct{}{}
	uniq := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}
	if len(uniq) == 0 {
		return map[string]ports.DistanceResult{}, nil
	}

	q := `
	SELECT pair_key, value
	FROM distance_cache
	WHERE pair_key = ANY($1::text[])
		AND expires_at > now();
	`
	rows, err := s.DB.QueryContext(ctx, q, uniq)
	if err != nil {
		return nil, fmt.Errorf("get distance cache: query distance_cache table: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ports.DistanceResult, len(uniq))
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("get distance cache: scan rows: %w", err)
		}
		var value ports.DistanceResult
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("get distance cache: decode value: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get distance cache: row iteration: %w", err)
	}
	return out, nil
}

func (s *SQLDistanceCache) Set(ctx context.Context, key string, value ports.DistanceResult, ttl time.Duration) error {
	if s.DB == nil {
		return errors.New("distance cache: db is nil")
	}
	if key == "" {
		return errors.New("set distance cache: key must not be empty")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("set distance cache: encode value: %w", err)
	}
	q := `
	INSERT INTO distance_cache (pair_key, value, expires_at)
	VALUES ($1, $2, now() + $3 * interval '1 second')
	ON CONFLICT (pair_key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at;
	`
	if _, err := s.DB.ExecContext(ctx, q, key, raw, int(ttl.Seconds())); err != nil {
		return fmt.Errorf("set distance cache: upsert: %w", err)
	}
	return nil
}

// Stats returns row counts for cmd/dbtool.
func (s *SQLDistanceCache) Stats(ctx context.Context) (total, expired int, err error) {
	if s.DB == nil {
		return 0, 0, errors.New("distance cache: db is nil")
	}
	q := `
	SELECT count(*), count(*) FILTER (WHERE expires_at <= now())
	FROM distance_cache;
	`
	if err := s.DB.QueryRowContext(ctx, q).Scan(&total, &expired); err != nil {
		return 0, 0, fmt.Errorf("distance cache: stats: %w", err)
	}
	return total, expired, nil
}
