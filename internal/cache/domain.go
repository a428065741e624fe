// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache holds the Redis-backed domain lookup cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const domainKeyPrefix = "tenancy:domain:"

// DomainCache maps normalized domains to tenant ids in Redis. It stores
// only ids; the tenant row, and its active flag, is always read from the
// database.
type DomainCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewDomainCache creates a cache whose entries live for ttl.
func NewDomainCache(client redis.UniversalClient, ttl time.Duration) *DomainCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DomainCache{client: client, ttl: ttl}
}

func domainKey(domain string) string {
	return domainKeyPrefix + domain
}

// Get returns the cached tenant id for domain.
func (c *DomainCache) Get(ctx context.Context, domain string) (string, bool, error) {
	tenantID, err := c.client.Get(ctx, domainKey(domain)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read domain cache: %w", err)
	}
	return tenantID, true, nil
}

// Set caches the tenant id of domain.
func (c *DomainCache) Set(ctx context.Context, domain, tenantID string) error {
	if err := c.client.Set(ctx, domainKey(domain), tenantID, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write domain cache: %w", err)
	}
	return nil
}

// Invalidate drops the entry of domain.
func (c *DomainCache) Invalidate(ctx context.Context, domain string) error {
	if err := c.client.Del(ctx, domainKey(domain)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate domain cache: %w", err)
	}
	return nil
}

// NewClient opens a Redis client and checks connectivity.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
