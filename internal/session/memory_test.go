package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestGetOrCreate_FirstMessageCreates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sess, created, err := s.GetOrCreate(ctx, "U1", "2025-06-01")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "U1", sess.UserID)
	require.Empty(t, sess.History)
	require.Zero(t, sess.RequestCount)

	_, created, err = s.GetOrCreate(ctx, "U1", "2025-06-01")
	require.NoError(t, err)
	require.False(t, created)
}

func TestGetOrCreate_ResetsOnNewDay(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, _, err := s.GetOrCreate(ctx, "U1", "2025-06-01")
	require.NoError(t, err)
	require.NoError(t, s.RecordTurn(ctx, "U1", RoleUser, "a"))
	require.NoError(t, s.RecordTurn(ctx, "U1", RoleModel, "b"))
	ok, err := s.IncrementAndCheckQuota(ctx, "U1", 20)
	require.NoError(t, err)
	require.True(t, ok)

	sess, created, err := s.GetOrCreate(ctx, "U1", "2025-06-02")
	require.NoError(t, err)
	require.True(t, created)
	require.Empty(t, sess.History)
	require.Zero(t, sess.RequestCount)
	require.Equal(t, "2025-06-02", sess.LastActivityDate)

	// only the first message of the day resets
	require.NoError(t, s.RecordTurn(ctx, "U1", RoleUser, "c"))
	sess, created, err = s.GetOrCreate(ctx, "U1", "2025-06-02")
	require.NoError(t, err)
	require.False(t, created)
	require.Len(t, sess.History, 1)
}

func TestGetOrCreate_EarlierDayKeepsSession(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, _, err := s.GetOrCreate(ctx, "U1", "2025-06-02")
	require.NoError(t, err)
	require.NoError(t, s.RecordTurn(ctx, "U1", RoleUser, "a"))

	sess, created, err := s.GetOrCreate(ctx, "U1", "2025-06-01")
	require.NoError(t, err)
	require.False(t, created)
	require.Len(t, sess.History, 1)
	require.Equal(t, "2025-06-02", sess.LastActivityDate)

	require.NoError(t, s.Touch(ctx, "U1", "2025-06-01"))
	sess, created, err = s.GetOrCreate(ctx, "U1", "2025-06-02")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "2025-06-02", sess.LastActivityDate)
}

func TestGetOrCreate_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, _, _ = s.GetOrCreate(ctx, "U1", "2025-06-01")
	require.NoError(t, s.RecordTurn(ctx, "U1", RoleUser, "a"))

	sess, _, err := s.GetOrCreate(ctx, "U1", "2025-06-01")
	require.NoError(t, err)
	sess.History[0].Text = "mutated"

	again, _, err := s.GetOrCreate(ctx, "U1", "2025-06-01")
	require.NoError(t, err)
	require.Equal(t, "a", again.History[0].Text)
}

func TestIncrementAndCheckQuota_StopsAtLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, _ = s.GetOrCreate(ctx, "U1", "2025-06-01")

	for i := 0; i < 3; i++ {
		ok, err := s.IncrementAndCheckQuota(ctx, "U1", 3)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := s.IncrementAndCheckQuota(ctx, "U1", 3)
	require.NoError(t, err)
	require.False(t, ok)

	sess, _, _ := s.GetOrCreate(ctx, "U1", "2025-06-01")
	require.Equal(t, 3, sess.RequestCount)
}

func TestIncrementAndCheckQuota_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, _ = s.GetOrCreate(ctx, "U1", "2025-06-01")

	const limit = 5
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.IncrementAndCheckQuota(ctx, "U1", limit)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, limit, allowed)
}

func TestMutations_UnknownUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.ErrorIs(t, s.RecordTurn(ctx, "nobody", RoleUser, "x"), ErrNotFound)
	_, err := s.IncrementAndCheckQuota(ctx, "nobody", 1)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.Touch(ctx, "nobody", "2025-06-01"), ErrNotFound)
	require.ErrorIs(t, s.SetDisplayName(ctx, "nobody", "x"), ErrNotFound)
}

func TestLock_SerializesSameUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	unlock, err := s.Lock(ctx, "U1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := s.Lock(ctx, "U1")
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(50 * time.Millisecond):
	}

	// other users are not blocked
	other, err := s.Lock(ctx, "U2")
	require.NoError(t, err)
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestLock_ContextCancelled(t *testing.T) {
	s := NewMemoryStore()
	unlock, err := s.Lock(context.Background(), "U1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Lock(ctx, "U1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEvictIdle(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(WithNow(clock.Now))

	_, _, _ = s.GetOrCreate(ctx, "old", "2025-06-01")
	clock.Advance(3 * time.Hour)
	_, _, _ = s.GetOrCreate(ctx, "fresh", "2025-06-01")

	removed, err := s.EvictIdle(ctx, 2*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.Sessions)
}

func TestEvictIdle_SkipsLockedSessions(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(WithNow(clock.Now))

	_, _, _ = s.GetOrCreate(ctx, "busy", "2025-06-01")
	unlock, err := s.Lock(ctx, "busy")
	require.NoError(t, err)
	defer unlock()

	clock.Advance(time.Hour)
	removed, err := s.EvictIdle(ctx, time.Minute)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestMaxSessions_EvictsLeastRecentlySeen(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(WithMaxSessions(2), WithNow(clock.Now))

	for i := 0; i < 2; i++ {
		_, _, _ = s.GetOrCreate(ctx, fmt.Sprintf("U%d", i), "2025-06-01")
		clock.Advance(time.Minute)
	}
	// U0 becomes the most recent
	_, _, _ = s.GetOrCreate(ctx, "U0", "2025-06-01")
	clock.Advance(time.Minute)

	_, created, err := s.GetOrCreate(ctx, "U2", "2025-06-01")
	require.NoError(t, err)
	require.True(t, created)

	st, _ := s.Stats(ctx)
	require.Equal(t, 2, st.Sessions)

	_, created, _ = s.GetOrCreate(ctx, "U0", "2025-06-01")
	require.False(t, created)
	_, created, _ = s.GetOrCreate(ctx, "U1", "2025-06-01")
	require.True(t, created, "U1 should have been evicted")
}

func TestEvict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, _ = s.GetOrCreate(ctx, "U1", "2025-06-01")

	ok, err := s.Evict(ctx, "U1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Evict(ctx, "U1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDayOf_UsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	ts := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	require.Equal(t, "2025-06-01", DayOf(ts, time.UTC))
	require.Equal(t, "2025-06-02", DayOf(ts, tokyo))
}
