package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterSpacesRequestsPerHost(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		observed []string
	)
	l := New(Config{
		RPS:   10, // one token every 100ms
		Burst: 1,
		Observe: func(host string, _ time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			observed = append(observed, host)
		},
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://Feeds.Example.com/a.xml"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://feeds.example.com/b.xml"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	// A different host has its own bucket.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://other.example.org/rss"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	assert.Equal(t, 2, l.Hosts())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"feeds.example.com"}, observed)
}

func TestLimiterUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://example.com"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterRespectsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow.example")
}

func TestHostKeyHandlesGarbage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unknown", hostKey("::bad"))
	assert.Equal(t, "unknown", hostKey(""))
	assert.Equal(t, "example.com", hostKey("https://EXAMPLE.com:8443/x"))
}
