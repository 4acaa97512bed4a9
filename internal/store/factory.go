package store

import (
	"context"
	"fmt"

	"github.com/vanvuongngo/hindsight/internal/config"
)

// NewFromConfig resolves store backends from configuration. The composite
// backend (lexical, graph, facts) supports memory, postgres, and auto; the
// vector index additionally supports qdrant, composed on top of the others.
func NewFromConfig(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	var (
		base *Store
		pg   *PG
	)

	dsn := firstNonEmpty(cfg.Vector.DSN, cfg.DefaultDSN)
	switch cfg.Backend {
	case "", "memory":
		base = NewMemStore().AsStore()
	case "auto":
		if cfg.DefaultDSN != "" {
			if p, err := OpenPG(ctx, cfg.DefaultDSN); err == nil {
				pg = p
				base = p.AsStore()
			}
		}
		if base == nil {
			base = NewMemStore().AsStore()
		}
	case "postgres", "pg":
		if cfg.DefaultDSN == "" {
			return nil, fmt.Errorf("store backend postgres requires a DSN")
		}
		p, err := OpenPG(ctx, cfg.DefaultDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		pg = p
		base = p.AsStore()
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}

	switch cfg.Vector.Backend {
	case "", "auto", "memory", "postgres", "pg":
		// The composite backend already provides the vector index.
	case "qdrant":
		qv, err := NewQdrantVector(dsn, cfg.Collection)
		if err != nil {
			if pg != nil {
				pg.Close()
			}
			return nil, err
		}
		base.Vector = qv
		base.closers = append(base.closers, qv.Close)
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", cfg.Vector.Backend)
	}

	if cfg.CallTimeout > 0 {
		base.CallTimeout = cfg.CallTimeout
	}
	return base, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
