package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c := New(Config{ComputeTimeout: time.Second}, nil, nil)
	t.Cleanup(c.Close)
	return c
}

func TestGetOrSetCachesValue(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls int32
	fetch := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "value", nil
	}

	v, err := GetOrSet(ctx, c, NamespaceReserves, "k", time.Minute, fetch)
	require.NoError(t, err)
	require.Equal(t, "value", v)

	v, err = GetOrSet(ctx, c, NamespaceReserves, "k", time.Minute, fetch)
	require.NoError(t, err)
	require.Equal(t, "value", v)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetOrSetAntiStampede(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 42, nil
	}

	const workers = 50
	results := make([]int, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = GetOrSet(ctx, c, NamespaceReserves, "slow", time.Minute, fetch)
		}(i)
	}

	// Let every worker reach the cache before the fetch completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "exactly one compute for concurrent callers")
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, 42, results[i])
	}
}

func TestGetOrSetDifferentKeysDoNotSerialize(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	blocked := make(chan struct{})
	go func() {
		_, _ = GetOrSet(ctx, c, NamespaceReserves, "stuck", time.Minute, func(ctx context.Context) (int, error) {
			<-blocked
			return 0, nil
		})
	}()

	// The pending entry for "stuck" must not delay another key.
	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := GetOrSet(ctx, c, NamespaceReserves, "free", time.Minute, func(ctx context.Context) (int, error) {
			return 7, nil
		})
		require.NoError(t, err)
		require.Equal(t, 7, v)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lookup for an independent key blocked behind a pending entry")
	}
	close(blocked)
}

func TestGetOrSetFailureIsNotCached(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	boom := errors.New("boom")
	var calls int32
	fetch := func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", boom
		}
		return "recovered", nil
	}

	_, err := GetOrSet(ctx, c, NamespacePairs, "k", time.Minute, fetch)
	require.ErrorIs(t, err, boom)

	v, err := GetOrSet(ctx, c, NamespacePairs, "k", time.Minute, fetch)
	require.NoError(t, err)
	require.Equal(t, "recovered", v)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetOrSetFailureFansOutToWaiters(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	boom := errors.New("boom")
	release := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		<-release
		return "", boom
	}

	const workers = 10
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = GetOrSet(ctx, c, NamespacePairs, "k", time.Minute, fetch)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.ErrorIs(t, errs[i], boom)
	}
}

func TestGetOrSetZeroTTLAlwaysRecomputes(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls int32
	fetch := func(ctx context.Context) (int32, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	first, err := GetOrSet(ctx, c, NamespacePrices, "k", 0, fetch)
	require.NoError(t, err)
	second, err := GetOrSet(ctx, c, NamespacePrices, "k", 0, fetch)
	require.NoError(t, err)

	require.Equal(t, int32(1), first)
	require.Equal(t, int32(2), second)
}

func TestGetOrSetExpiryTriggersSingleRefetch(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls int32
	fetch := func(ctx context.Context) (int32, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	_, err := GetOrSet(ctx, c, NamespaceReserves, "k", 20*time.Millisecond, fetch)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	v, err := GetOrSet(ctx, c, NamespaceReserves, "k", time.Minute, fetch)
	require.NoError(t, err)
	require.Equal(t, int32(2), v)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetOrSetComputeTimeout(t *testing.T) {
	c := New(Config{ComputeTimeout: 20 * time.Millisecond}, nil, nil)
	defer c.Close()
	ctx := context.Background()

	fetch := func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	_, err := GetOrSet(ctx, c, NamespaceReserves, "k", time.Minute, fetch)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The key is empty again, not wedged in pending.
	v, err := GetOrSet(ctx, c, NamespaceReserves, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestGetOrSetCallerCancellation(t *testing.T) {
	c := newTestCache(t)

	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := GetOrSet(ctx, c, NamespaceReserves, "k", time.Minute, func(ctx context.Context) (int, error) {
			<-release
			return 1, nil
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, ns Namespace, key string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, string(ns)+"/"+key)
	return nil
}

func TestGetOrSetPublishesToSecondaryTier(t *testing.T) {
	pub := &recordingPublisher{}
	c := New(Config{ComputeTimeout: time.Second}, pub, nil)
	defer c.Close()

	_, err := GetOrSet(context.Background(), c, NamespacePrices, "TOKEN-aaaaaa", time.Minute, func(ctx context.Context) (string, error) {
		return "1.23", nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.keys) == 1 && pub.keys[0] == "prices/TOKEN-aaaaaa"
	}, time.Second, 10*time.Millisecond)
}

func TestInvalidate(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls int32
	fetch := func(ctx context.Context) (int32, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	_, err := GetOrSet(ctx, c, NamespaceMetadata, "k", time.Hour, fetch)
	require.NoError(t, err)

	c.Invalidate(NamespaceMetadata, "k")

	v, err := GetOrSet(ctx, c, NamespaceMetadata, "k", time.Hour, fetch)
	require.NoError(t, err)
	require.Equal(t, int32(2), v)
}
