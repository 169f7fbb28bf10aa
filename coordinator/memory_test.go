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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetNXClaimsOnceThenRefusesUntilDeleted(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "lock:j1", "holder-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.SetNX(ctx, "lock:j1", "holder-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a second SetNX must not steal an unexpired key")

	deleted, err := m.CompareDelete(ctx, "lock:j1", "holder-a")
	require.NoError(t, err)
	assert.True(t, deleted)

	ok, err = m.SetNX(ctx, "lock:j1", "holder-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "SetNX must succeed once the key is deleted")
}

func TestSetNXHonorsExpiry(t *testing.T) {
	m := NewMemory()
	var now time.Time
	m.clock = func() time.Time { return now }
	now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "lock:j1", "holder-a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, err = m.SetNX(ctx, "lock:j1", "holder-b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "an expired key must not block a new SetNX")
}

func TestCompareDeleteRejectsMismatchedExpectedValue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.SetNX(ctx, "lock:j1", "holder-a", time.Minute)
	require.NoError(t, err)

	deleted, err := m.CompareDelete(ctx, "lock:j1", "wrong-holder")
	require.NoError(t, err)
	assert.False(t, deleted)

	exists, err := m.Exists(ctx, "lock:j1")
	require.NoError(t, err)
	assert.True(t, exists, "a mismatched CompareDelete must not remove the key")
}

func TestCompareExpireRefreshesTTLOnlyForMatchingValue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.SetNX(ctx, "lock:j1", "holder-a", time.Millisecond)
	require.NoError(t, err)

	ok, err := m.CompareExpire(ctx, "lock:j1", "holder-a", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(5 * time.Millisecond)
	exists, err := m.Exists(ctx, "lock:j1")
	require.NoError(t, err)
	assert.True(t, exists, "CompareExpire must have pushed the TTL out")
}

func TestZAddZPopMaxOrdersByScoreThenMember(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.ZAdd(ctx, "pending", "job-b", 5))
	require.NoError(t, m.ZAdd(ctx, "pending", "job-a", 5))
	require.NoError(t, m.ZAdd(ctx, "pending", "job-c", 10))

	member, score, ok, err := m.ZPopMax(ctx, "pending")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job-c", member)
	assert.Equal(t, 10.0, score)

	member, _, ok, err = m.ZPopMax(ctx, "pending")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job-a", member, "ties break on the lexically smaller member")
}

func TestZPopMaxOnEmptySetReportsNotFound(t *testing.T) {
	m := NewMemory()
	_, _, ok, err := m.ZPopMax(context.Background(), "nothing-here")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestZRangeByScoreFiltersAndSortsAscending(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.ZAdd(ctx, "delayed", "job-a", 100))
	require.NoError(t, m.ZAdd(ctx, "delayed", "job-b", 50))
	require.NoError(t, m.ZAdd(ctx, "delayed", "job-c", 200))

	out, err := m.ZRangeByScore(ctx, "delayed", 100)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "job-b", out[0].Member)
	assert.Equal(t, "job-a", out[1].Member)
}

func TestZCardAndZRemReflectSetMembership(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.ZAdd(ctx, "pending", "job-a", 1))
	require.NoError(t, m.ZAdd(ctx, "pending", "job-b", 2))

	card, err := m.ZCard(ctx, "pending")
	require.NoError(t, err)
	assert.Equal(t, 2, card)

	require.NoError(t, m.ZRem(ctx, "pending", "job-a"))
	card, err = m.ZCard(ctx, "pending")
	require.NoError(t, err)
	assert.Equal(t, 1, card)
}

func TestSetOperationsAddRemoveAndListSorted(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SAdd(ctx, "queued", "job-b"))
	require.NoError(t, m.SAdd(ctx, "queued", "job-a"))

	members, err := m.SMembers(ctx, "queued")
	require.NoError(t, err)
	assert.Equal(t, []string{"job-a", "job-b"}, members)

	card, err := m.SCard(ctx, "queued")
	require.NoError(t, err)
	assert.Equal(t, 2, card)

	require.NoError(t, m.SRem(ctx, "queued", "job-a"))
	members, err = m.SMembers(ctx, "queued")
	require.NoError(t, err)
	assert.Equal(t, []string{"job-b"}, members)
}

func TestHashSetGetAllAndDel(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.HSet(ctx, "meta:j1", map[string]string{"attempts": "1", "priority": "5"}))
	require.NoError(t, m.HSet(ctx, "meta:j1", map[string]string{"attempts": "2"}))

	out, err := m.HGetAll(ctx, "meta:j1")
	require.NoError(t, err)
	assert.Equal(t, "2", out["attempts"])
	assert.Equal(t, "5", out["priority"])

	require.NoError(t, m.HDel(ctx, "meta:j1"))
	out, err = m.HGetAll(ctx, "meta:j1")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestIncrByCreatesThenAccumulates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	v, err := m.IncrBy(ctx, "counter:u1", 3, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = m.IncrBy(ctx, "counter:u1", 4, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func TestIncrByPreservesExistingTTLOnSubsequentCalls(t *testing.T) {
	m := NewMemory()
	var now time.Time
	m.clock = func() time.Time { return now }
	now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_, err := m.IncrBy(ctx, "counter:u1", 1, time.Second)
	require.NoError(t, err)
	_, err = m.IncrBy(ctx, "counter:u1", 1, time.Hour)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	exists, err := m.Exists(ctx, "counter:u1")
	require.NoError(t, err)
	assert.False(t, exists, "the original short TTL from the creating call must still govern expiry")
}

func TestLPushLRangeOrdersMostRecentFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.LPush(ctx, "dlq", "job-1"))
	require.NoError(t, m.LPush(ctx, "dlq", "job-2"))
	require.NoError(t, m.LPush(ctx, "dlq", "job-3"))

	out, err := m.LRange(ctx, "dlq", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-3", "job-2"}, out)

	all, err := m.LRange(ctx, "dlq", -1)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDelRemovesKeyAcrossEveryDataStructure(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.SetNX(ctx, "k", "v", time.Minute)
	require.NoError(t, err)
	require.NoError(t, m.SAdd(ctx, "k", "member"))
	require.NoError(t, m.ZAdd(ctx, "k", "member", 1))
	require.NoError(t, m.HSet(ctx, "k", map[string]string{"f": "v"}))
	require.NoError(t, m.LPush(ctx, "k", "v"))

	require.NoError(t, m.Del(ctx, "k"))

	exists, _ := m.Exists(ctx, "k")
	assert.False(t, exists)
	card, _ := m.SCard(ctx, "k")
	assert.Equal(t, 0, card)
	zcard, _ := m.ZCard(ctx, "k")
	assert.Equal(t, 0, zcard)
	hash, _ := m.HGetAll(ctx, "k")
	assert.Empty(t, hash)
	list, _ := m.LRange(ctx, "k", -1)
	assert.Empty(t, list)
}

func TestTxnSerializesStepsAtomically(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.ZAdd(ctx, "pending", "job-a", 1))

	var poppedMember string
	var poppedOK bool
	err := m.Txn(ctx, func(tx Tx) error {
		poppedMember, _, poppedOK = tx.ZPopMax("pending")
		tx.ZAdd("running", poppedMember, 0)
		return nil
	})
	require.NoError(t, err)
	require.True(t, poppedOK)
	assert.Equal(t, "job-a", poppedMember)

	pendingCard, err := m.ZCard(ctx, "pending")
	require.NoError(t, err)
	assert.Equal(t, 0, pendingCard)
	runningCard, err := m.ZCard(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, 1, runningCard)
}

func TestPingAlwaysSucceeds(t *testing.T) {
	m := NewMemory()
	assert.NoError(t, m.Ping(context.Background()))
}
