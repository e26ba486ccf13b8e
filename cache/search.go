// Package cache hält Suchergebnisse in Redis vor. Ein nil-*SearchCache ist
// gültig und verhält sich wie ein Cache ohne Treffer.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "arxiv-hype:search:"

type SearchCache struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *zap.Logger
}

// Connect öffnet die Redis-Verbindung aus einer URL wie redis://host:6379/0.
func Connect(ctx context.Context, rawURL string, ttl time.Duration, logger *zap.Logger) (*SearchCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return &SearchCache{Client: client, TTL: ttl, Logger: logger}, nil
}

// Key bildet einen stabilen Schlüssel aus den Suchparametern.
func Key(params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return keyPrefix + hex.EncodeToString(sum[:]), nil
}

// Get lädt einen Eintrag nach dst. ok ist false bei fehlendem Eintrag.
func (c *SearchCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.Client == nil {
		return false, nil
	}
	raw, err := c.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set speichert v mit der konfigurierten TTL.
func (c *SearchCache) Set(ctx context.Context, key string, v any) error {
	if c == nil || c.Client == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, key, raw, c.TTL).Err()
}

// Flush verwirft alle Sucheinträge, z.B. nach einem Pipeline-Lauf.
func (c *SearchCache) Flush(ctx context.Context) error {
	if c == nil || c.Client == nil {
		return nil
	}
	iter := c.Client.Scan(ctx, 0, keyPrefix+"*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	c.Logger.Debug("Such-Cache geleert", zap.Int("keys", len(keys)))
	return c.Client.Del(ctx, keys...).Err()
}

func (c *SearchCache) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Client.Close()
}
