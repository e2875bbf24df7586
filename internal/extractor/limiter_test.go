package extractor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainLimiterAllowsBurst(t *testing.T) {
	dl := NewDomainLimiter(60)
	defer dl.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, dl.Allow("https://example.com/page"), "request %d should fit in the burst", i)
	}
	assert.False(t, dl.Allow("https://example.com/another"))
}

func TestDomainLimiterTracksDomainsIndependently(t *testing.T) {
	dl := NewDomainLimiter(60)
	defer dl.Stop()

	for i := 0; i < 5; i++ {
		dl.Allow("https://one.example.com/")
	}
	assert.False(t, dl.Allow("https://one.example.com/"))
	assert.True(t, dl.Allow("https://two.example.com/"))
}

func TestDomainLimiterWaitHonorsContext(t *testing.T) {
	dl := NewDomainLimiter(1)
	defer dl.Stop()

	// Drain the burst so the next wait has to block.
	for dl.Allow("https://slow.example.com/") {
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := dl.Wait(ctx, "https://slow.example.com/")
	require.Error(t, err)
}

func TestDomainLimiterStats(t *testing.T) {
	dl := NewDomainLimiter(600)
	defer dl.Stop()

	dl.Allow("https://a.example.com/x")
	dl.Allow("https://a.example.com/y")
	dl.Allow("https://b.example.com/")

	stats := dl.Stats()
	assert.Equal(t, int64(2), stats["a.example.com"])
	assert.Equal(t, int64(1), stats["b.example.com"])
}

func TestDomainLimiterGroupsUnparseableURLs(t *testing.T) {
	dl := NewDomainLimiter(60)
	defer dl.Stop()

	dl.Allow("::not-a-url")
	dl.Allow("relative/path")

	stats := dl.Stats()
	assert.Equal(t, int64(2), stats["unknown"])
}
