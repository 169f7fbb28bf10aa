// Copyright (c) 2026 The dubqueue Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package coordinator defines the contract for the external keyed store the
// distributed queue relies on for coordination (spec.md §4.2), plus an
// in-process reference implementation used when no external coordinator is
// configured and in tests.
package coordinator

import (
	"context"
	"time"
)

// ScoredMember is one entry of a sorted-set range query.
type ScoredMember struct {
	Member string
	Score  float64
}

// Coordinator is the narrow capability contract spec.md §4.2 lists. Every
// method may fail transiently; DistributedQueue treats any error as
// "unhealthy" and AutoQueue may act on that by switching to LocalQueue.
type Coordinator interface {
	// Ping reports liveness.
	Ping(ctx context.Context) error

	// SetNX sets key to value with a TTL only if key is absent. Returns
	// true if the set happened (lock acquired).
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareDelete deletes key only if its current value equals expect.
	// Returns true if the delete happened.
	CompareDelete(ctx context.Context, key, expect string) (bool, error)

	// CompareExpire refreshes key's TTL only if its current value equals
	// expect. Returns true if the refresh happened.
	CompareExpire(ctx context.Context, key, expect string, ttl time.Duration) (bool, error)

	// Get returns a key's current value, or ok=false if absent/expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// ZAdd upserts member with score into a sorted set.
	ZAdd(ctx context.Context, key, member string, score float64) error
	// ZRem removes member from a sorted set.
	ZRem(ctx context.Context, key, member string) error
	// ZPopMax atomically removes and returns the highest-scored member.
	ZPopMax(ctx context.Context, key string) (member string, score float64, ok bool, err error)
	// ZRangeByScore returns members with score <= max, ascending by score.
	ZRangeByScore(ctx context.Context, key string, max float64) ([]ScoredMember, error)
	// ZCard returns the cardinality of a sorted set.
	ZCard(ctx context.Context, key string) (int, error)

	// SAdd/SRem/SCard/SMembers implement the per-user running/queued sets.
	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SCard(ctx context.Context, key string) (int, error)
	SMembers(ctx context.Context, key string) ([]string, error)

	// HSet/HGetAll implement per-job metadata and per-user quota hashes.
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string) error

	// IncrBy atomically increments a counter, creating it with the given
	// TTL on first use; it returns the post-increment value. Used for the
	// per-user per-UTC-day job counter.
	IncrBy(ctx context.Context, key string, delta int64, ttlIfCreated time.Duration) (int64, error)

	// LPush/LRange implement the dead-letter list.
	LPush(ctx context.Context, key, value string) error
	LRange(ctx context.Context, key string, count int) ([]string, error)

	// Expire sets (or refreshes) a bare TTL-marker key's existence,
	// independent of CAS — used for the short-lived cancel flag.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Exists reports whether key currently exists (and is unexpired).
	Exists(ctx context.Context, key string) (bool, error)
	// Del unconditionally deletes a key.
	Del(ctx context.Context, key string) error

	// Txn runs fn as a scripted multi-step transaction: the Lua-equivalent
	// spec.md §4.2 requires for the atomic claim-and-lock operation. The
	// reference implementation serializes all Txn calls through a single
	// mutex; a real coordinator would execute fn's steps server-side.
	Txn(ctx context.Context, fn func(Tx) error) error
}

// Tx is the subset of Coordinator operations permitted inside a Txn, all
// guaranteed atomic relative to every other Txn and single-op call.
type Tx interface {
	ZPopMax(key string) (member string, score float64, ok bool)
	ZAdd(key, member string, score float64)
	ZRem(key, member string)
	SetNX(key, value string, ttl time.Duration) bool
	Get(key string) (string, bool)
}
