package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smartshieldai-idps/flowguard/backend/internal/detection/ml"
	"github.com/smartshieldai-idps/flowguard/backend/internal/metrics"
)

const (
	flowSeqKey   = "flow:seq"
	flowPrefix   = "flow:"
	flowIndexKey = "flow:index"

	modelSeqKey   = "model:seq"
	modelPrefix   = "model:"
	modelIndexKey = "model:index"

	alertSeqKey   = "alert:seq"
	alertPrefix   = "alert:"
	alertIndexKey = "alert:index"

	// scanChunk bounds the ids fetched per ZRANGE/MGET round trip
	scanChunk = 500
)

// ErrNotFound is returned for ids with no stored document
var ErrNotFound = fmt.Errorf("store: %w", ml.ErrNotFound)

// Store represents a Redis-backed data store for flow records, the model
// catalog and alerts
type Store struct {
	client  *redis.Client
	metrics *metrics.MetricsCollector
}

// Options tunes the Redis connection pool. Zero values keep the client
// defaults.
type Options struct {
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
}

// NewStore creates a new Redis store
func NewStore(redisURL string, options Options, collector *metrics.MetricsCollector) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}
	if options.PoolSize > 0 {
		opt.PoolSize = options.PoolSize
	}
	if options.MinIdleConns > 0 {
		opt.MinIdleConns = options.MinIdleConns
	}
	if options.MaxRetries != 0 {
		opt.MaxRetries = options.MaxRetries
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error connecting to Redis: %v", err)
	}

	return NewStoreWithClient(client, collector), nil
}

// NewStoreWithClient wraps an existing client
func NewStoreWithClient(client *redis.Client, collector *metrics.MetricsCollector) *Store {
	if collector == nil {
		collector = metrics.NewMetricsCollector()
	}
	return &Store{client: client, metrics: collector}
}

// Client exposes the underlying Redis client
func (s *Store) Client() *redis.Client {
	return s.client
}

// Ping checks the Redis connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// get decodes the document at key into dst
func (s *Store) get(ctx context.Context, key string, dst any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("error reading %s: %v", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("error decoding %s: %v", key, err)
	}
	return nil
}

// indexed is one document with its index entry
type indexed struct {
	id    int64
	score float64
	doc   any
}

// putIndexed stores documents and their index entries in one transaction
func (s *Store) putIndexed(ctx context.Context, prefix, indexKey string, docs []indexed) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, d := range docs {
			data, err := json.Marshal(d.doc)
			if err != nil {
				return fmt.Errorf("error marshaling document: %v", err)
			}
			member := strconv.FormatInt(d.id, 10)
			pipe.Set(ctx, prefix+member, data, 0)
			pipe.ZAdd(ctx, indexKey, redis.Z{Score: d.score, Member: member})
		}
		return nil
	})
	return err
}

// reserveIDs allocates n consecutive ids and returns the first
func (s *Store) reserveIDs(ctx context.Context, seqKey string, n int) (int64, error) {
	last, err := s.client.IncrBy(ctx, seqKey, int64(n)).Result()
	if err != nil {
		return 0, fmt.Errorf("error allocating ids: %v", err)
	}
	return last - int64(n) + 1, nil
}

// timeScore is the index score of t
func timeScore(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// scoreRange converts optional time bounds to an inclusive score range
func scoreRange(start, end *time.Time) redis.ZRangeBy {
	r := redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if start != nil {
		r.Min = strconv.FormatInt(start.UnixMicro(), 10)
	}
	if end != nil {
		r.Max = strconv.FormatInt(end.UnixMicro(), 10)
	}
	return r
}

// scanIndex walks the documents of an index within r, in ascending or
// descending score order, until visit returns false. Index entries whose
// document is gone are skipped.
func scanIndex[T any](ctx context.Context, client *redis.Client, prefix, indexKey string, r redis.ZRangeBy, newestFirst bool, visit func(*T) bool) error {
	var offset int64
	for {
		by := r
		by.Offset, by.Count = offset, scanChunk

		var ids []string
		var err error
		if newestFirst {
			ids, err = client.ZRevRangeByScore(ctx, indexKey, &by).Result()
		} else {
			ids, err = client.ZRangeByScore(ctx, indexKey, &by).Result()
		}
		if err != nil {
			return fmt.Errorf("error reading %s: %v", indexKey, err)
		}
		if len(ids) == 0 {
			return nil
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = prefix + id
		}
		values, err := client.MGet(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("error reading documents: %v", err)
		}

		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var doc T
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				return fmt.Errorf("error decoding %s: %v", keys[i], err)
			}
			if !visit(&doc) {
				return nil
			}
		}

		if len(ids) < scanChunk {
			return nil
		}
		offset += int64(len(ids))
	}
}

// pager applies skip/limit to a stream of matches
type pager struct {
	skip, limit int
}

// accept reports whether the next match belongs to the page and whether
// more matches are wanted afterwards
func (p *pager) accept() (keep, more bool) {
	if p.skip > 0 {
		p.skip--
		return false, true
	}
	p.limit--
	return true, p.limit > 0
}
