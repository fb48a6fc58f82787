package cache_test

import (
	"strconv"
	"testing"

	"github.com/y3owk1n/kioku/internal/cache"
	"github.com/y3owk1n/kioku/internal/infra/clock"
	"go.uber.org/zap"
)

func BenchmarkSet(b *testing.B) {
	c := cache.New(64<<20, clock.NewFake(testEpoch), zap.NewNop())
	payload := []byte("benchmark payload of a realistic size for a cache line")

	i := 0

	for b.Loop() {
		_ = c.Set("key-"+strconv.Itoa(i%10000), cache.NewValue(payload, 0))
		i++
	}
}

func BenchmarkGetHit(b *testing.B) {
	c := cache.New(64<<20, clock.NewFake(testEpoch), zap.NewNop())

	for i := range 10000 {
		_ = c.Set("key-"+strconv.Itoa(i), cache.NewValue([]byte("value"), 0))
	}

	i := 0

	for b.Loop() {
		_, _ = c.Get("key-" + strconv.Itoa(i%10000))
		i++
	}
}

func BenchmarkSetWithEviction(b *testing.B) {
	// Small budget so most sets evict
	c := cache.New(1<<12, clock.NewFake(testEpoch), zap.NewNop())
	payload := make([]byte, 256)

	i := 0

	for b.Loop() {
		_ = c.Set("key-"+strconv.Itoa(i), cache.NewValue(payload, 0))
		i++
	}
}
