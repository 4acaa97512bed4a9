package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/vanvuongngo/hindsight/internal/memory"
)

// PG is the Postgres backend. It reads the ingestion-owned schema
// (banks, facts, entities, links, fact_entities) and never writes.
//
// Expected indexes: ivfflat cosine index on facts.embedding scoped by
// bank_id, a GIN index on the generated tsvector over text and context,
// and a btree on (bank_id, occurred_start).
type PG struct {
	pool *pgxpool.Pool
}

// NewPG wraps an existing pool.
func NewPG(pool *pgxpool.Pool) *PG { return &PG{pool: pool} }

// OpenPG connects a pool with the standard defaults and pings it.
func OpenPG(ctx context.Context, dsn string) (*PG, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &PG{pool: pool}, nil
}

// AsStore wraps the backend in a composite Store.
func (p *PG) AsStore() *Store {
	s := New(p, p, p, p)
	s.closers = append(s.closers, p.Close)
	return s
}

// Close releases the pool.
func (p *PG) Close() { p.pool.Close() }

// query runs fn with a bounded exponential retry on transient connection
// errors. The retry never outlives ctx, so the per-call deadline still
// holds.
func (p *PG) query(ctx context.Context, fn func(context.Context) error) error {
	bo := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(25*time.Millisecond),
		backoff.WithMaxInterval(100*time.Millisecond),
		backoff.WithMaxElapsedTime(0),
	), ctx)
	err := backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, bo)
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08xxx: connection exceptions; 57P03: cannot_connect_now.
		cls := pgErr.Code[:2]
		return cls == "08" || pgErr.Code == "57P03"
	}
	return pgconn.SafeToRetry(err)
}

func factTypeStrings(types []memory.FactType) []string {
	if len(types) == 0 {
		types = memory.AllFactTypes()
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func (p *PG) TopK(ctx context.Context, bank string, types []memory.FactType, queryVec []float32, k int, filter VectorFilter) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	vec := pgvector.NewVector(queryVec)
	args := []any{bank, factTypeStrings(types), vec, filter.MinSimilarity, k}
	timeCond := ""
	if filter.HasTimeRange() {
		if filter.RequireOccurred {
			timeCond = ` AND occurred_start IS NOT NULL AND occurred_start >= $6 AND occurred_start <= $7`
		} else {
			timeCond = ` AND COALESCE(occurred_start, mentioned_at) >= $6 AND COALESCE(occurred_start, mentioned_at) <= $7`
		}
		args = append(args, *filter.OccurredStart, *filter.OccurredEnd)
	}
	stmt := `
SELECT id, 1 - (embedding <=> $3) AS similarity
FROM facts
WHERE bank_id = $1
  AND fact_type = ANY($2)
  AND 1 - (embedding <=> $3) >= $4` + timeCond + `
ORDER BY embedding <=> $3, id
LIMIT $5`
	var out []Hit
	err := p.query(ctx, func(cctx context.Context) error {
		rows, err := p.pool.Query(cctx, stmt, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var h Hit
			if err := rows.Scan(&h.FactID, &h.Score); err != nil {
				return err
			}
			out = append(out, h)
		}
		return rows.Err()
	})
	return out, err
}

func (p *PG) Search(ctx context.Context, bank string, types []memory.FactType, query string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	stmt := `
SELECT id, ts_rank(ts, plainto_tsquery('simple', $3)) AS score
FROM facts
WHERE bank_id = $1
  AND fact_type = ANY($2)
  AND ts @@ plainto_tsquery('simple', $3)
ORDER BY score DESC, id
LIMIT $4`
	var out []Hit
	err := p.query(ctx, func(cctx context.Context) error {
		rows, err := p.pool.Query(cctx, stmt, bank, factTypeStrings(types), query, k)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var h Hit
			if err := rows.Scan(&h.FactID, &h.Score); err != nil {
				return err
			}
			out = append(out, h)
		}
		return rows.Err()
	})
	return out, err
}

func (p *PG) LinksFrom(ctx context.Context, bank, factID string, types []memory.LinkType) ([]memory.Link, error) {
	lt := make([]string, 0, len(types))
	for _, t := range types {
		lt = append(lt, string(t))
	}
	if len(lt) == 0 {
		for _, t := range memory.AllLinkTypes() {
			lt = append(lt, string(t))
		}
	}
	stmt := `
SELECT l.source_id, l.target_id, l.link_type, l.weight
FROM links l
JOIN facts f ON f.id = l.source_id
WHERE l.source_id = $1 AND f.bank_id = $2 AND l.link_type = ANY($3)
ORDER BY l.target_id, l.link_type`
	var out []memory.Link
	err := p.query(ctx, func(cctx context.Context) error {
		rows, err := p.pool.Query(cctx, stmt, factID, bank, lt)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var l memory.Link
			var typ string
			if err := rows.Scan(&l.SourceID, &l.TargetID, &typ, &l.Weight); err != nil {
				return err
			}
			l.Type = memory.LinkType(typ)
			out = append(out, l)
		}
		return rows.Err()
	})
	return out, err
}

func (p *PG) ResolveBank(ctx context.Context, bank string) error {
	return p.query(ctx, func(cctx context.Context) error {
		var one int
		err := p.pool.QueryRow(cctx, `SELECT 1 FROM banks WHERE id = $1`, bank).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBankNotFound
		}
		return err
	})
}

func (p *PG) FetchFacts(ctx context.Context, bank string, ids []string) ([]memory.Fact, error) {
	stmt := `
SELECT f.id, f.fact_type, f.text, COALESCE(f.context, ''),
       f.occurred_start, f.occurred_end, f.mentioned_at,
       COALESCE(f.document_id, ''), COALESCE(f.chunk_id, ''),
       COALESCE(array_agg(fe.entity_id) FILTER (WHERE fe.entity_id IS NOT NULL), '{}')
FROM facts f
LEFT JOIN fact_entities fe ON fe.fact_id = f.id
WHERE f.bank_id = $1 AND f.id = ANY($2)
GROUP BY f.id`
	byID := make(map[string]memory.Fact, len(ids))
	err := p.query(ctx, func(cctx context.Context) error {
		rows, err := p.pool.Query(cctx, stmt, bank, ids)
		if err != nil {
			return err
		}
		defer rows.Close()
		clear(byID)
		for rows.Next() {
			var f memory.Fact
			var typ string
			if err := rows.Scan(&f.ID, &typ, &f.Text, &f.Context,
				&f.OccurredStart, &f.OccurredEnd, &f.MentionedAt,
				&f.DocumentID, &f.ChunkID, &f.EntityRefs); err != nil {
				return err
			}
			f.BankID = bank
			f.Type = memory.FactType(typ)
			byID[f.ID] = f
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	out := make([]memory.Fact, 0, len(ids))
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (p *PG) EntityMentions(ctx context.Context, bank string, entityIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(entityIDs))
	err := p.query(ctx, func(cctx context.Context) error {
		rows, err := p.pool.Query(cctx,
			`SELECT id, mention_count FROM entities WHERE bank_id = $1 AND id = ANY($2)`,
			bank, entityIDs)
		if err != nil {
			return err
		}
		defer rows.Close()
		clear(out)
		for rows.Next() {
			var id string
			var n int
			if err := rows.Scan(&id, &n); err != nil {
				return err
			}
			out[id] = n
		}
		return rows.Err()
	})
	return out, err
}

func (p *PG) EntityObservations(ctx context.Context, bank string, entityIDs []string, tokenCap int) ([]memory.EntityObservation, error) {
	stmt := `
SELECT e.id, e.canonical_name, e.mention_count, f.text
FROM entities e
JOIN fact_entities fe ON fe.entity_id = e.id
JOIN facts f ON f.id = fe.fact_id AND f.fact_type = 'observation'
WHERE e.bank_id = $1 AND e.id = ANY($2)
ORDER BY e.id, f.id`
	var out []memory.EntityObservation
	err := p.query(ctx, func(cctx context.Context) error {
		rows, err := p.pool.Query(cctx, stmt, bank, entityIDs)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		budget := tokenCap
		for rows.Next() {
			var obs memory.EntityObservation
			if err := rows.Scan(&obs.EntityID, &obs.CanonicalName, &obs.MentionCount, &obs.Text); err != nil {
				return err
			}
			cost := approxTokens(obs.Text)
			if tokenCap > 0 && cost > budget && len(out) > 0 {
				break
			}
			out = append(out, obs)
			budget -= cost
		}
		return rows.Err()
	})
	return out, err
}
