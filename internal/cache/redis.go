package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
)

// redisTier is the remote persistent tier for multi-process deployments.
// Redis expiry carries the TTL, so Maintenance has nothing to sweep.
type redisTier struct {
	client    goredis.UniversalClient
	namespace string
}

// RedisTierConfig holds settings for the redis persistent tier.
type RedisTierConfig struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// NewRedisTier creates a redis-backed persistent tier.
func NewRedisTier(cfg RedisTierConfig) Tier {
	if cfg.Namespace == "" {
		cfg.Namespace = "cogito"
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &redisTier{client: client, namespace: cfg.Namespace}
}

func (r *redisTier) key(cacheType, hashedKey string) string {
	return fmt.Sprintf("%s:%s:%s", r.namespace, cacheType, hashedKey)
}

func (r *redisTier) Get(ctx context.Context, cacheType, hashedKey string) (*Entry, error) {
	data, err := r.client.Get(ctx, r.key(cacheType, hashedKey)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var rec diskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse redis cache record: %w", err)
	}
	return &Entry{
		Key:       rec.Key,
		Value:     rec.Value,
		CreatedAt: rec.CreatedAt,
		TTL:       time.Duration(rec.TTLMs) * time.Millisecond,
		Size:      int64(len(rec.Value)),
	}, nil
}

func (r *redisTier) Set(ctx context.Context, cacheType, hashedKey string, entry *Entry) error {
	rec := diskRecord{
		Key:       entry.Key,
		Value:     entry.Value,
		CreatedAt: entry.CreatedAt,
		TTLMs:     entry.TTL.Milliseconds(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(cacheType, hashedKey), data, entry.TTL).Err()
}

func (r *redisTier) Delete(ctx context.Context, cacheType, hashedKey string) error {
	return r.client.Del(ctx, r.key(cacheType, hashedKey)).Err()
}

func (r *redisTier) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.namespace+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (r *redisTier) Maintenance(ctx context.Context) (int, error) {
	// Redis expires keys itself.
	return 0, nil
}

func (r *redisTier) Close() error {
	return r.client.Close()
}
