package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/y3owk1n/kioku/internal/cache"
	"github.com/y3owk1n/kioku/internal/infra/clock"
	"go.uber.org/zap"
)

const testEpoch = 1700000000.0

func newTestCache(capacity uint64) (*cache.Cache, *clock.Fake) {
	clk := clock.NewFake(testEpoch)

	return cache.New(capacity, clk, zap.NewNop()), clk
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(1024)

	err := c.Set("x", cache.NewValue([]byte("abc"), 15))
	require.NoError(t, err)

	v, err := c.Get("x")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), v.Data())
	assert.Equal(t, uint16(15), v.Flags())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.GetHits)
	assert.Equal(t, uint64(0), stats.GetMisses)
	assert.Equal(t, uint64(1), stats.TotalItems)
	assert.Equal(t, uint64(len("x")+len("abc")), stats.Bytes)
}

func TestGetMiss(t *testing.T) {
	c, _ := newTestCache(1024)

	_, err := c.Get("missing")
	require.Error(t, err)
	assert.True(t, cache.IsNotFound(err))

	stats := c.Stats()
	assert.Equal(t, uint64(0), stats.GetHits)
	assert.Equal(t, uint64(1), stats.GetMisses)
}

func TestKeyTooLong(t *testing.T) {
	c, _ := newTestCache(1024)
	c.WithKeyMaxlen(4)

	err := c.Set("toolong", cache.NewValue([]byte("v"), 0))
	assert.True(t, cache.IsKeyTooLong(err))

	_, err = c.Get("toolong")
	assert.True(t, cache.IsKeyTooLong(err))

	_, err = c.Remove("toolong")
	assert.True(t, cache.IsKeyTooLong(err))

	// Length checks happen before the liveness check, so no miss is counted
	stats := c.Stats()
	assert.Equal(t, uint64(0), stats.GetMisses)
	assert.Equal(t, uint64(0), stats.DeleteMisses)
}

func TestValueTooLong(t *testing.T) {
	c, _ := newTestCache(1024)
	c.WithValueMaxlen(2)

	err := c.Set("x", cache.NewValue([]byte("abc"), 0))
	assert.True(t, cache.IsValueTooLong(err))
	assert.Equal(t, uint64(0), c.Stats().Bytes)
}

func TestCapacityExceededLeavesStateUntouched(t *testing.T) {
	c, _ := newTestCache(8)

	require.NoError(t, c.Set("a", cache.NewValue([]byte("1234"), 0)))
	before := c.Stats()

	err := c.Set("bb", cache.NewValue([]byte("12345678"), 0))
	assert.True(t, cache.IsCapacityExceeded(err))

	after := c.Stats()
	assert.Equal(t, before.Bytes, after.Bytes)
	assert.Equal(t, 1, c.Len())

	// The old entry is still retrievable
	_, err = c.Get("a")
	assert.NoError(t, err)
}

func TestLRUEvictionOrder(t *testing.T) {
	// Room for exactly two single-byte-key, three-byte-value entries
	c, _ := newTestCache(8)

	require.NoError(t, c.Set("a", cache.NewValue([]byte("111"), 0)))
	require.NoError(t, c.Set("b", cache.NewValue([]byte("222"), 0)))
	require.NoError(t, c.Set("c", cache.NewValue([]byte("333"), 0)))

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, uint64(1), stats.Reclaimed)
	assert.Equal(t, 2, c.Len())

	// "a" was the oldest and is gone; "b" and "c" survive
	_, err := c.Get("a")
	assert.True(t, cache.IsNotFound(err))

	_, err = c.Get("b")
	assert.NoError(t, err)

	_, err = c.Get("c")
	assert.NoError(t, err)
}

func TestReadRefreshesLRUOrder(t *testing.T) {
	c, _ := newTestCache(8)

	require.NoError(t, c.Set("a", cache.NewValue([]byte("111"), 0)))
	require.NoError(t, c.Set("b", cache.NewValue([]byte("222"), 0)))

	// Reading "a" moves it to the front, making "b" the victim
	_, err := c.Get("a")
	require.NoError(t, err)

	require.NoError(t, c.Set("c", cache.NewValue([]byte("333"), 0)))

	_, err = c.Get("b")
	assert.True(t, cache.IsNotFound(err))

	_, err = c.Get("a")
	assert.NoError(t, err)
}

func TestOverwriteAccountsDelta(t *testing.T) {
	c, _ := newTestCache(1024)

	require.NoError(t, c.Set("x", cache.NewValue([]byte("abc"), 0)))
	require.NoError(t, c.Set("x", cache.NewValue([]byte("abcdef"), 0)))

	stats := c.Stats()
	assert.Equal(t, uint64(len("x")+len("abcdef")), stats.Bytes)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, uint64(2), stats.TotalItems)
}

func TestLazyExpiryOnAccess(t *testing.T) {
	c, clk := newTestCache(1024)

	v := cache.NewValue([]byte("abc"), 0)
	v.SetExptime(testEpoch + 10)
	require.NoError(t, c.Set("x", v))

	clk.Advance(5)

	_, err := c.Get("x")
	assert.NoError(t, err, "not yet expired")

	clk.Advance(10)

	_, err = c.Get("x")
	assert.True(t, cache.IsNotFound(err))
	assert.Equal(t, 0, c.Len(), "dead entry is dropped on access")
	assert.Equal(t, uint64(0), c.Stats().Bytes)
}

func TestItemLifetimeExpiry(t *testing.T) {
	c, clk := newTestCache(1024)
	c.WithItemLifetime(30)

	require.NoError(t, c.Set("x", cache.NewValue([]byte("abc"), 0)))

	clk.Advance(20)

	_, err := c.Get("x")
	assert.NoError(t, err, "within lifetime; read refreshes atime")

	clk.Advance(29)

	_, err = c.Get("x")
	assert.NoError(t, err, "lifetime counts from the last access")

	clk.Advance(31)

	_, err = c.Get("x")
	assert.True(t, cache.IsNotFound(err))
}

func TestFlushHorizonTrumpsFutureExptime(t *testing.T) {
	c, clk := newTestCache(1024)

	v := cache.NewValue([]byte("abc"), 0)
	v.SetExptime(testEpoch + 1000)
	require.NoError(t, c.Set("k1", v))
	require.NoError(t, c.Set("k2", cache.NewValue([]byte("def"), 0)))

	c.FlushAll(testEpoch + 1)

	clk.Advance(2)

	_, err := c.Get("k1")
	assert.True(t, cache.IsNotFound(err), "future exptime set before the flush does not survive it")

	_, err = c.Get("k2")
	assert.True(t, cache.IsNotFound(err))

	// A write after the horizon is visible
	require.NoError(t, c.Set("k3", cache.NewValue([]byte("ghi"), 0)))

	_, err = c.Get("k3")
	assert.NoError(t, err)
}

func TestRemove(t *testing.T) {
	c, _ := newTestCache(1024)

	require.NoError(t, c.Set("x", cache.NewValue([]byte("abc"), 0)))

	v, err := c.Remove("x")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), v.Data())
	assert.Equal(t, uint64(0), c.Stats().Bytes)
	assert.Equal(t, uint64(1), c.Stats().DeleteHits)

	_, err = c.Remove("x")
	assert.True(t, cache.IsNotFound(err))
	assert.Equal(t, uint64(1), c.Stats().DeleteMisses)
}

func TestRemoveDeadEntryReportsMiss(t *testing.T) {
	c, clk := newTestCache(1024)

	v := cache.NewValue([]byte("abc"), 0)
	v.SetExptime(testEpoch + 1)
	require.NoError(t, c.Set("x", v))

	clk.Advance(2)

	_, err := c.Remove("x")
	assert.True(t, cache.IsNotFound(err))
	assert.Equal(t, uint64(1), c.Stats().DeleteMisses)
	assert.Equal(t, uint64(0), c.Stats().Bytes, "the dead entry is dropped")
}

func TestReinsertDoesNotCountTotalItems(t *testing.T) {
	c, _ := newTestCache(1024)

	require.NoError(t, c.Set("x", cache.NewValue([]byte("1"), 0)))

	v, err := c.Remove("x")
	require.NoError(t, err)

	v.SetData([]byte("2"))
	require.NoError(t, c.Reinsert("x", v))

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.TotalItems, "write-backs are not set-family operations")
	assert.Equal(t, uint64(len("x")+1), stats.Bytes)
}

func TestContainsCountsAsGet(t *testing.T) {
	c, _ := newTestCache(1024)

	require.NoError(t, c.Set("x", cache.NewValue([]byte("abc"), 0)))

	present, err := c.Contains("x")
	require.NoError(t, err)
	assert.True(t, present)

	absent, err := c.Contains("y")
	require.NoError(t, err)
	assert.False(t, absent)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.GetHits)
	assert.Equal(t, uint64(1), stats.GetMisses)
}

func TestBytesNeverExceedCapacity(t *testing.T) {
	c, _ := newTestCache(32)

	payloads := [][]byte{
		[]byte("aaaaaaaa"),
		[]byte("bbbb"),
		[]byte("cccccccccccc"),
		[]byte("dd"),
		[]byte("eeeeeeeeeeeeeeee"),
	}

	for i, payload := range payloads {
		key := string(rune('a' + i))
		require.NoError(t, c.Set(key, cache.NewValue(payload, 0)))
		assert.LessOrEqual(t, c.Stats().Bytes, c.Capacity())
	}
}

func TestCasTokenChangesAcrossOverwrite(t *testing.T) {
	c, _ := newTestCache(1024)

	require.NoError(t, c.Set("x", cache.NewValue([]byte("abc"), 0)))

	v, err := c.Get("x")
	require.NoError(t, err)
	stale := v.CasID()

	require.NoError(t, c.Set("x", cache.NewValue([]byte("def"), 0)))

	v, err = c.Get("x")
	require.NoError(t, err)
	assert.NotEqual(t, stale, v.CasID(),
		"an overwrite must invalidate previously handed-out tokens")

	// A pure read leaves the token alone
	again, err := c.Get("x")
	require.NoError(t, err)
	assert.Equal(t, v.CasID(), again.CasID())
}
