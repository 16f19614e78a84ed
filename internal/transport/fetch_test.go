package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/feeddigest/internal/feed"
)

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
}

func (p *recordingPauser) recorded() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.delays...)
}

func newTestClient(t *testing.T, pauser *recordingPauser, opts ...Option) *Client {
	t.Helper()
	opts = append(opts, withPauser(pauser))
	c, err := New(Config{}, zap.NewNop(), opts...)
	require.NoError(t, err)
	return c
}

// sequenceServer replies with the given statuses in order, repeating the last.
func sequenceServer(t *testing.T, statuses []int, headers map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(statuses[n])
		_, _ = w.Write([]byte("<rss></rss>"))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestFetchSuccessSendsFeedHeaders(t *testing.T) {
	t.Parallel()

	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		_, _ = w.Write([]byte("<rss>ok</rss>"))
	}))
	defer srv.Close()

	c := newTestClient(t, &recordingPauser{})
	res := c.Fetch(context.Background(), srv.URL, Options{Timeout: time.Second, MaxRetries: 2})

	require.True(t, res.OK)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "<rss>ok</rss>", res.Body)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, defaultUserAgent, gotUA)
	assert.Equal(t, defaultAccept, gotAccept)
}

func TestFetchRetriesServerErrorsWithLinearDelay(t *testing.T) {
	t.Parallel()

	srv, calls := sequenceServer(t, []int{http.StatusServiceUnavailable}, nil)
	pauser := &recordingPauser{}
	c := newTestClient(t, pauser)

	res := c.Fetch(context.Background(), srv.URL, Options{
		Timeout:    time.Second,
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
	})

	require.False(t, res.OK)
	assert.Equal(t, http.StatusServiceUnavailable, res.Status)
	assert.Equal(t, "HTTP 503", res.Error)
	assert.Equal(t, feed.KindHTTPStatus, res.Kind)
	assert.Empty(t, res.Body)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, pauser.recorded())
}

func TestFetchRecoversAfterTransientFailure(t *testing.T) {
	t.Parallel()

	srv, calls := sequenceServer(t, []int{http.StatusBadGateway, http.StatusOK}, nil)
	c := newTestClient(t, &recordingPauser{})

	res := c.Fetch(context.Background(), srv.URL, Options{Timeout: time.Second, MaxRetries: 2, RetryDelay: time.Millisecond})

	require.True(t, res.OK)
	assert.Equal(t, 2, res.Attempts)
	assert.EqualValues(t, 2, calls.Load())
}

func TestFetchHonorsRetryAfterOn429(t *testing.T) {
	t.Parallel()

	srv, calls := sequenceServer(t,
		[]int{http.StatusTooManyRequests, http.StatusOK},
		map[string]string{"Retry-After": "5"},
	)
	pauser := &recordingPauser{}
	c := newTestClient(t, pauser)

	res := c.Fetch(context.Background(), srv.URL, Options{Timeout: time.Second, MaxRetries: 2, RetryDelay: time.Second})

	require.True(t, res.OK)
	assert.Equal(t, 2, res.Attempts, "the 429 wait consumes one attempt")
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, []time.Duration{5 * time.Second}, pauser.recorded())
}

func TestFetchCapsRetryAfterAtSixtySeconds(t *testing.T) {
	t.Parallel()

	srv, _ := sequenceServer(t,
		[]int{http.StatusTooManyRequests, http.StatusOK},
		map[string]string{"Retry-After": "600"},
	)
	pauser := &recordingPauser{}
	c := newTestClient(t, pauser)

	res := c.Fetch(context.Background(), srv.URL, Options{Timeout: time.Second, MaxRetries: 2})

	require.True(t, res.OK)
	assert.Equal(t, []time.Duration{60 * time.Second}, pauser.recorded())
}

func TestFetchRateLimitedWhenBudgetExhausted(t *testing.T) {
	t.Parallel()

	srv, calls := sequenceServer(t, []int{http.StatusTooManyRequests}, nil)
	pauser := &recordingPauser{}
	c := newTestClient(t, pauser)

	res := c.Fetch(context.Background(), srv.URL, Options{Timeout: time.Second, MaxRetries: 2})

	require.False(t, res.OK)
	assert.Equal(t, http.StatusTooManyRequests, res.Status)
	assert.Equal(t, "rate limited", res.Error)
	assert.Equal(t, feed.KindRateLimited, res.Kind)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, []time.Duration{fallbackRateLimitWait}, pauser.recorded())
}

func TestFetchReportsTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, &recordingPauser{})
	res := c.Fetch(context.Background(), srv.URL, Options{Timeout: 50 * time.Millisecond, MaxRetries: 1})

	require.False(t, res.OK)
	assert.Equal(t, feed.KindTimeout, res.Kind)
	assert.Equal(t, "timeout after 50ms", res.Error)
	assert.Zero(t, res.Status)
}

func TestFetchReportsNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	pauser := &recordingPauser{}
	c := newTestClient(t, pauser)
	res := c.Fetch(context.Background(), target, Options{Timeout: time.Second, MaxRetries: 2, RetryDelay: time.Second})

	require.False(t, res.OK)
	assert.Equal(t, feed.KindNetwork, res.Kind)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []time.Duration{time.Second}, pauser.recorded())
}

func TestFetchCanceledRunIsNotASourceFailure(t *testing.T) {
	t.Parallel()

	arrived := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-arrived
		cancel()
	}()

	pauser := &recordingPauser{}
	c := newTestClient(t, pauser)
	res := c.Fetch(ctx, srv.URL, Options{Timeout: 5 * time.Second, MaxRetries: 3, RetryDelay: time.Second})

	require.False(t, res.OK)
	assert.Equal(t, feed.KindCanceled, res.Kind)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, pauser.recorded(), "no retry after the run is canceled")
}

func TestFetchAlreadyCanceledMakesNoAttempt(t *testing.T) {
	t.Parallel()

	srv, calls := sequenceServer(t, []int{http.StatusOK}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestClient(t, &recordingPauser{}).Fetch(ctx, srv.URL, Options{Timeout: time.Second, MaxRetries: 2})

	require.False(t, res.OK)
	assert.Equal(t, feed.KindCanceled, res.Kind)
	assert.Zero(t, res.Attempts)
	assert.Zero(t, calls.Load())
}

func TestFetchRoutesThroughConfiguredProxy(t *testing.T) {
	t.Parallel()

	var proxied atomic.Value
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Store(r.URL.String())
		_, _ = w.Write([]byte("<feed></feed>"))
	}))
	defer proxy.Close()

	c, err := New(Config{ProxyURL: proxy.URL}, zap.NewNop(), withPauser(&recordingPauser{}))
	require.NoError(t, err)

	res := c.Fetch(context.Background(), "http://feeds.example.invalid/atom.xml", Options{Timeout: time.Second, MaxRetries: 1})

	require.True(t, res.OK)
	assert.Equal(t, "http://feeds.example.invalid/atom.xml", proxied.Load())
}

func TestNewRejectsInvalidProxy(t *testing.T) {
	t.Parallel()

	_, err := New(Config{ProxyURL: "::not a url"}, nil)
	require.Error(t, err)
}

type countingWaiter struct{ calls atomic.Int32 }

func (w *countingWaiter) Wait(context.Context, string) error {
	w.calls.Add(1)
	return nil
}

func TestFetchConsultsHostWaiterPerAttempt(t *testing.T) {
	t.Parallel()

	srv, _ := sequenceServer(t, []int{http.StatusInternalServerError, http.StatusOK}, nil)
	waiter := &countingWaiter{}
	c := newTestClient(t, &recordingPauser{}, WithHostWaiter(waiter))

	res := c.Fetch(context.Background(), srv.URL, Options{Timeout: time.Second, MaxRetries: 3})

	require.True(t, res.OK)
	assert.EqualValues(t, 2, waiter.calls.Load())
}
