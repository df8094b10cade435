package oauthstate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutTake(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "tok", "app://callback", time.Minute))

	got, err := s.Take(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "app://callback", got)

	_, err = s.Take(ctx, "tok")
	assert.ErrorIs(t, err, ErrStateNotFound, "second take must fail")
}

func TestMemoryStore_TakeUnknown(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	_, err := s.Take(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestMemoryStore_Expired(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(context.Background(), "tok", "app://cb", time.Minute))
	now = now.Add(time.Minute)

	_, err := s.Take(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrStateNotFound)
	assert.Equal(t, 0, s.Len(), "expired entry should be removed on take")
}

func TestMemoryStore_RejectsNonPositiveTTL(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()

	assert.Error(t, s.Put(context.Background(), "tok", "app://cb", 0))
}

func TestMemoryStore_Sweep(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "short", "app://cb", time.Second))
	require.NoError(t, s.Put(ctx, "long", "app://cb", time.Hour))
	now = now.Add(time.Minute)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_BackgroundSweeperStopsOnClose(t *testing.T) {
	s := NewMemoryStore(5 * time.Millisecond)
	require.NoError(t, s.Put(context.Background(), "tok", "app://cb", time.Millisecond))

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestMemoryStore_ConcurrentTakeSucceedsOnce(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "tok", "app://cb", time.Minute))

	const workers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := s.Take(ctx, "tok"); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
