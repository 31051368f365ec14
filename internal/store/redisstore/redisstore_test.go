package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/chat-relay/internal/session"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	rdb := NewClient(m.Addr(), "", 0)
	t.Cleanup(func() { _ = rdb.Close() })

	opts = append([]Option{WithPrefix("relaytest:"), WithIdleTTL(time.Hour), WithLockTTL(5 * time.Second)}, opts...)
	s := New(rdb, opts...)
	require.NoError(t, s.Ping(context.Background()))
	return s, m
}

func TestKeys(t *testing.T) {
	s := New(nil, WithPrefix("p:"))
	require.Equal(t, "p:session:U1", s.sessionKey("U1"))
	require.Equal(t, "p:lock:U1", s.lockKey("U1"))
	require.Equal(t, "p:seen", s.seenKey())
}

func TestEncodeDecode(t *testing.T) {
	in := session.Session{
		UserID:           "U1",
		History:          []session.Turn{{Role: session.RoleUser, Text: "a"}, {Role: session.RoleModel, Text: "b"}},
		RequestCount:     1,
		LastActivityDate: "2025-06-01",
		LastSeen:         time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	b, err := encode(in)
	require.NoError(t, err)
	out, err := decode(b)
	require.NoError(t, err)
	require.True(t, in.LastSeen.Equal(out.LastSeen))
	out.LastSeen = in.LastSeen
	require.Equal(t, in, out)

	_, err = decode([]byte("{"))
	require.Error(t, err)
}

func TestStore_Lifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, created, err := s.GetOrCreate(ctx, "U1", "2025-06-01")
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, s.RecordTurn(ctx, "U1", session.RoleUser, "a"))
	require.NoError(t, s.RecordTurn(ctx, "U1", session.RoleModel, "b"))
	ok, err := s.IncrementAndCheckQuota(ctx, "U1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.IncrementAndCheckQuota(ctx, "U1", 1)
	require.NoError(t, err)
	require.False(t, ok)

	sess, created, err := s.GetOrCreate(ctx, "U1", "2025-06-01")
	require.NoError(t, err)
	require.False(t, created)
	require.Len(t, sess.History, 2)
	require.Equal(t, 1, sess.RequestCount)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, session.Stats{Sessions: 1, Turns: 2}, st)

	sess, created, err = s.GetOrCreate(ctx, "U1", "2025-06-02")
	require.NoError(t, err)
	require.True(t, created)
	require.Empty(t, sess.History)
	require.Zero(t, sess.RequestCount)

	evicted, err := s.Evict(ctx, "U1")
	require.NoError(t, err)
	require.True(t, evicted)
	require.ErrorIs(t, s.RecordTurn(ctx, "U1", session.RoleUser, "x"), session.ErrNotFound)
}

func TestStore_ConcurrentQuota(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, _, err := s.GetOrCreate(ctx, "U1", "2025-06-01")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.IncrementAndCheckQuota(ctx, "U1", 3)
			if err == nil && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 3, granted)
}

func TestStore_LockAndEvictIdle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	unlock, err := s.Lock(ctx, "U1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = s.Lock(waitCtx, "U1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, _, err = s.GetOrCreate(ctx, "U1", "2025-06-01")
	require.NoError(t, err)
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	n, err := s.EvictIdle(ctx, time.Minute)
	require.NoError(t, err)
	require.Zero(t, n)

	unlock()
	n, err = s.EvictIdle(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestClaims(t *testing.T) {
	s, _ := newTestStore(t)
	c := NewClaims(s.rdb, s.prefix)
	ctx := context.Background()

	ok, err := c.Claim(ctx, "reply:rt1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.Claim(ctx, "reply:rt1", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_EarlierDayKeepsSession(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, created, err := s.GetOrCreate(ctx, "U1", "2025-06-02")
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, s.RecordTurn(ctx, "U1", session.RoleUser, "a"))

	sess, created, err := s.GetOrCreate(ctx, "U1", "2025-06-01")
	require.NoError(t, err)
	require.False(t, created)
	require.Len(t, sess.History, 1)

	require.NoError(t, s.Touch(ctx, "U1", "2025-06-01"))
	sess, created, err = s.GetOrCreate(ctx, "U1", "2025-06-02")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "2025-06-02", sess.LastActivityDate)
	require.Len(t, sess.History, 1)
}

func TestStore_SessionKeyExpires(t *testing.T) {
	s, m := newTestStore(t)
	ctx := context.Background()

	_, _, err := s.GetOrCreate(ctx, "U1", "2025-06-01")
	require.NoError(t, err)
	require.True(t, m.Exists(s.sessionKey("U1")))

	m.FastForward(2 * time.Hour)
	require.False(t, m.Exists(s.sessionKey("U1")))
	require.ErrorIs(t, s.RecordTurn(ctx, "U1", session.RoleUser, "x"), session.ErrNotFound)
}

func TestStore_LockRenewsLease(t *testing.T) {
	s, m := newTestStore(t, WithLockTTL(600*time.Millisecond))
	ctx := context.Background()
	key := s.lockKey("U1")

	unlock, err := s.Lock(ctx, "U1")
	require.NoError(t, err)

	// without renewal the lease is gone after 800ms of server time
	m.FastForward(400 * time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	m.FastForward(400 * time.Millisecond)
	require.True(t, m.Exists(key))

	unlock()
	require.False(t, m.Exists(key))
	unlock()

	unlock, err = s.Lock(ctx, "U1")
	require.NoError(t, err)
	unlock()
}

func TestStore_UnlockKeepsForeignLease(t *testing.T) {
	s, m := newTestStore(t)
	ctx := context.Background()
	key := s.lockKey("U1")

	unlock, err := s.Lock(ctx, "U1")
	require.NoError(t, err)
	require.NoError(t, m.Set(key, "someone-else"))

	unlock()
	got, err := m.Get(key)
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}
