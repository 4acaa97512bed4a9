package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/vanvuongngo/hindsight/internal/config"
)

// redisCache decorates an Embedder with a shared Redis cache so multiple
// hindsight processes reuse each other's embeddings. Cache misses and Redis
// errors fall through to the inner embedder; a broken cache never fails a
// request.
type redisCache struct {
	inner  Embedder
	client *redis.Client
	ttl    time.Duration
}

// WithRedisCache wraps inner with a Redis-backed cache when cfg.Enabled;
// otherwise it returns inner unchanged.
func WithRedisCache(inner Embedder, cfg config.RedisConfig) (Embedder, error) {
	if !cfg.Enabled {
		return inner, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis embedding cache ping: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &redisCache{inner: inner, client: client, ttl: ttl}, nil
}

func (c *redisCache) Name() string   { return c.inner.Name() }
func (c *redisCache) Dimension() int { return c.inner.Dimension() }

func (c *redisCache) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("emb:%s:%s", c.inner.Name(), hex.EncodeToString(sum[:]))
}

func (c *redisCache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		val, err := c.client.Get(ctx, c.key(t)).Result()
		if err == nil {
			var vec []float32
			if json.Unmarshal([]byte(val), &vec) == nil {
				out[i] = vec
				continue
			}
		} else if err != redis.Nil {
			log.Debug().Err(err).Msg("embedding_cache_get_error")
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	vecs, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for i, v := range vecs {
		out[missingIdx[i]] = v
		payload, merr := json.Marshal(v)
		if merr != nil {
			continue
		}
		if err := c.client.Set(ctx, c.key(missing[i]), payload, c.ttl).Err(); err != nil {
			log.Debug().Err(err).Msg("embedding_cache_set_error")
		}
	}
	return out, nil
}
