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

package coordinator

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

type valueEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e valueEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is an in-process KeyedCoordinator. It is the concrete "external
// keyed in-memory store" spec.md §1 names as this system's coordination
// mechanism when no separate coordinator process is configured: single-process
// deployments use it directly (LocalQueue takes no coordinator at all), and the DistributedQueue
// tests run the exact same claim/lock/defer logic against it that they
// would run against a real networked coordinator.
//
// All operations serialize through one mutex: this is deliberately simple,
// matching the teacher's single-goroutine actor style (ste/jobStatusManager.go)
// rather than attempting fine-grained locking for a reference implementation.
type Memory struct {
	mu     sync.Mutex
	values map[string]valueEntry
	sets   map[string]map[string]struct{}
	zsets  map[string]map[string]float64
	hashes map[string]map[string]string
	lists  map[string][]string
	clock  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		values: map[string]valueEntry{},
		sets:   map[string]map[string]struct{}{},
		zsets:  map[string]map[string]float64{},
		hashes: map[string]map[string]string{},
		lists:  map[string][]string{},
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) now() time.Time { return m.clock() }

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) getLocked(key string) (string, bool) {
	e, ok := m.values[key]
	if !ok || e.expired(m.now()) {
		if ok {
			delete(m.values, key)
		}
		return "", false
	}
	return e.value, true
}

func (m *Memory) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.getLocked(key); ok {
		return false, nil
	}
	m.setLocked(key, value, ttl)
	return true, nil
}

func (m *Memory) setLocked(key, value string, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	m.values[key] = valueEntry{value: value, expiresAt: exp}
}

func (m *Memory) CompareDelete(ctx context.Context, key, expect string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.getLocked(key)
	if !ok || v != expect {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *Memory) CompareExpire(ctx context.Context, key, expect string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.getLocked(key)
	if !ok || v != expect {
		return false, nil
	}
	m.setLocked(key, v, ttl)
	return true, nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.getLocked(key)
	return v, ok, nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, "1", ttl)
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.getLocked(key)
	return ok, nil
}

func (m *Memory) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.sets, key)
	delete(m.zsets, key)
	delete(m.hashes, key)
	delete(m.lists, key)
	return nil
}

func (m *Memory) ZAdd(ctx context.Context, key, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zaddLocked(key, member, score)
	return nil
}

func (m *Memory) zaddLocked(key, member string, score float64) {
	z, ok := m.zsets[key]
	if !ok {
		z = map[string]float64{}
		m.zsets[key] = z
	}
	z[member] = score
}

func (m *Memory) ZRem(ctx context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.zsets[key], member)
	return nil
}

func (m *Memory) ZPopMax(ctx context.Context, key string) (string, float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, score, ok := m.zpopMaxLocked(key)
	return member, score, ok, nil
}

func (m *Memory) zpopMaxLocked(key string) (string, float64, bool) {
	z := m.zsets[key]
	if len(z) == 0 {
		return "", 0, false
	}
	var best string
	var bestScore float64
	first := true
	for member, score := range z {
		if first || score > bestScore || (score == bestScore && member < best) {
			best, bestScore, first = member, score, false
		}
	}
	delete(z, best)
	return best, bestScore, true
}

func (m *Memory) ZRangeByScore(ctx context.Context, key string, max float64) ([]ScoredMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ScoredMember
	for member, score := range m.zsets[key] {
		if score <= max {
			out = append(out, ScoredMember{Member: member, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out, nil
}

func (m *Memory) ZCard(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.zsets[key]), nil
}

func (m *Memory) SAdd(ctx context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		s = map[string]struct{}{}
		m.sets[key] = s
	}
	s[member] = struct{}{}
	return nil
}

func (m *Memory) SRem(ctx context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets[key], member)
	return nil
}

func (m *Memory) SCard(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sets[key]), nil
}

func (m *Memory) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) HSet(ctx context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = map[string]string{}
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) HDel(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hashes, key)
	return nil
}

func (m *Memory) IncrBy(ctx context.Context, key string, delta int64, ttlIfCreated time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.getLocked(key)
	var cur int64
	if ok {
		cur, _ = strconv.ParseInt(v, 10, 64)
	}
	cur += delta
	if ok {
		// preserve existing TTL by re-reading the entry directly
		e := m.values[key]
		e.value = strconv.FormatInt(cur, 10)
		m.values[key] = e
	} else {
		m.setLocked(key, strconv.FormatInt(cur, 10), ttlIfCreated)
	}
	return cur, nil
}

func (m *Memory) LPush(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append([]string{value}, m.lists[key]...)
	return nil
}

func (m *Memory) LRange(ctx context.Context, key string, count int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	if count < 0 || count > len(l) {
		count = len(l)
	}
	out := make([]string, count)
	copy(out, l[:count])
	return out, nil
}

// Txn serializes fn behind the coordinator mutex so every step it performs
// is atomic relative to all other operations, matching the "scripted
// multi-step transaction" contract in spec.md §4.2.
func (m *Memory) Txn(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{m: m})
}

type memTx struct{ m *Memory }

func (t *memTx) ZPopMax(key string) (string, float64, bool) {
	return t.m.zpopMaxLocked(key)
}

func (t *memTx) ZAdd(key, member string, score float64) {
	t.m.zaddLocked(key, member, score)
}

func (t *memTx) ZRem(key, member string) {
	delete(t.m.zsets[key], member)
}

func (t *memTx) SetNX(key, value string, ttl time.Duration) bool {
	if _, ok := t.m.getLocked(key); ok {
		return false
	}
	t.m.setLocked(key, value, ttl)
	return true
}

func (t *memTx) Get(key string) (string, bool) {
	return t.m.getLocked(key)
}
