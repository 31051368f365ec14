// Package redisstore keeps sessions, per-user locks and single-use claims in
// Redis so that several relay processes can share them.
package redisstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/chat-relay/internal/session"
)

const (
	defaultPrefix  = "relay:"
	defaultLockTTL = 30 * time.Second
	lockRetryDelay = 50 * time.Millisecond
	maxTxRetries   = 16
	defaultIdleTTL = 48 * time.Hour
	sessionKeyPart = "session:"
	lockKeyPart    = "lock:"
	seenKeySuffix  = "seen"
	claimKeyPart   = "claim:"
)

var errConflict = errors.New("redisstore: too many concurrent updates")

// errUnchanged aborts an update without writing.
var errUnchanged = errors.New("unchanged")

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// NewClient connects to a single Redis node.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Store implements session.Store. Each session is a JSON document whose key
// expires after the idle TTL; a sorted set of last-seen times drives EvictIdle.
type Store struct {
	rdb     *redis.Client
	prefix  string
	idleTTL time.Duration
	lockTTL time.Duration
	now     func() time.Time
}

type Option func(*Store)

func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// WithIdleTTL sets the expiry refreshed on every write. Zero keeps keys forever.
func WithIdleTTL(d time.Duration) Option {
	return func(s *Store) { s.idleTTL = d }
}

// WithLockTTL bounds how long a crashed holder can block a user. A live holder
// renews the lease every third of it.
func WithLockTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTTL = d
		}
	}
}

func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{
		rdb:     rdb,
		prefix:  defaultPrefix,
		idleTTL: defaultIdleTTL,
		lockTTL: defaultLockTTL,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) sessionKey(userID string) string { return s.prefix + sessionKeyPart + userID }
func (s *Store) lockKey(userID string) string    { return s.prefix + lockKeyPart + userID }
func (s *Store) seenKey() string                 { return s.prefix + seenKeySuffix }

func (s *Store) GetOrCreate(ctx context.Context, userID, today string) (session.Session, bool, error) {
	key := s.sessionKey(userID)
	var (
		out     session.Session
		created bool
	)

	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		sess, err := s.load(ctx, tx, key)
		created = false
		switch {
		case errors.Is(err, session.ErrNotFound) || (err == nil && session.Expired(sess, today)):
			sess = session.Session{UserID: userID, LastActivityDate: today}
			created = true
		case err != nil:
			return err
		}
		sess.LastSeen = s.now()
		out = sess
		return s.save(ctx, tx, key, sess)
	})
	if err != nil {
		return session.Session{}, false, err
	}
	return out.Clone(), created, nil
}

func (s *Store) RecordTurn(ctx context.Context, userID string, role session.Role, text string) error {
	return s.update(ctx, userID, func(sess *session.Session) error {
		sess.History = append(sess.History, session.Turn{Role: role, Text: text})
		sess.LastSeen = s.now()
		return nil
	})
}

func (s *Store) IncrementAndCheckQuota(ctx context.Context, userID string, limit int) (bool, error) {
	allowed := false
	err := s.update(ctx, userID, func(sess *session.Session) error {
		if !session.Allow(*sess, limit) {
			allowed = false
			return errUnchanged
		}
		sess.RequestCount++
		allowed = true
		return nil
	})
	return allowed, err
}

func (s *Store) Touch(ctx context.Context, userID, today string) error {
	return s.update(ctx, userID, func(sess *session.Session) error {
		if session.Expired(*sess, today) {
			sess.LastActivityDate = today
		}
		sess.LastSeen = s.now()
		return nil
	})
}

func (s *Store) SetDisplayName(ctx context.Context, userID, name string) error {
	return s.update(ctx, userID, func(sess *session.Session) error {
		sess.DisplayName = name
		return nil
	})
}

// Lock takes a per-user lease with SET NX PX and polls until it is free or
// ctx is done. The lease is renewed until unlock is called.
func (s *Store) Lock(ctx context.Context, userID string) (func(), error) {
	key := s.lockKey(userID)
	token, err := randomToken()
	if err != nil {
		return nil, err
	}

	for {
		ok, err := s.rdb.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redisstore: lock %s: %w", userID, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(lockRetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go s.renew(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// the caller's ctx may already be cancelled
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = unlockScript.Run(ctx, s.rdb, []string{key}, token).Err()
		})
	}, nil
}

// renew extends the lease until stop is closed or the lease is lost.
func (s *Store) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.lockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.lockTTL/3)
		n, err := extendScript.Run(ctx, s.rdb, []string{key}, token, s.lockTTL.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			slog.Warn("session lock renewal failed", "key", key, "error", err)
		case n == 0:
			slog.Error("session lock lost", "key", key)
			return
		}
	}
}

func (s *Store) Evict(ctx context.Context, userID string) (bool, error) {
	var n *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		n = pipe.Del(ctx, s.sessionKey(userID))
		pipe.ZRem(ctx, s.seenKey(), userID)
		return nil
	})
	if err != nil {
		return false, err
	}
	return n.Val() > 0, nil
}

// EvictIdle removes sessions last seen before now-idle. Users holding a lock
// are skipped.
func (s *Store) EvictIdle(ctx context.Context, idle time.Duration) (int, error) {
	cutoff := s.now().Add(-idle).Unix()
	users, err := s.rdb.ZRangeByScore(ctx, s.seenKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err != nil {
		return 0, err
	}

	evicted := 0
	for _, userID := range users {
		held, err := s.rdb.Exists(ctx, s.lockKey(userID)).Result()
		if err != nil {
			return evicted, err
		}
		if held > 0 {
			continue
		}
		ok, err := s.Evict(ctx, userID)
		if err != nil {
			return evicted, err
		}
		if ok {
			evicted++
		}
	}
	return evicted, nil
}

func (s *Store) Stats(ctx context.Context) (session.Stats, error) {
	users, err := s.rdb.ZRange(ctx, s.seenKey(), 0, -1).Result()
	if err != nil {
		return session.Stats{}, err
	}
	if len(users) == 0 {
		return session.Stats{}, nil
	}

	keys := make([]string, len(users))
	for i, u := range users {
		keys[i] = s.sessionKey(u)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return session.Stats{}, err
	}

	var st session.Stats
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		sess, err := decode([]byte(raw))
		if err != nil {
			continue
		}
		st.Sessions++
		st.Turns += len(sess.History)
	}
	return st, nil
}

// update applies fn to an existing session inside an optimistic transaction.
func (s *Store) update(ctx context.Context, userID string, fn func(*session.Session) error) error {
	key := s.sessionKey(userID)
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		sess, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := fn(&sess); err != nil {
			return err
		}
		return s.save(ctx, tx, key, sess)
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

func (s *Store) watch(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errConflict
}

func (s *Store) load(ctx context.Context, tx *redis.Tx, key string) (session.Session, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, err
	}
	return decode(raw)
}

func (s *Store) save(ctx context.Context, tx *redis.Tx, key string, sess session.Session) error {
	b, err := encode(sess)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, b, s.idleTTL)
		pipe.ZAdd(ctx, s.seenKey(), redis.Z{Score: float64(sess.LastSeen.Unix()), Member: sess.UserID})
		return nil
	})
	return err
}

func encode(sess session.Session) ([]byte, error) {
	return json.Marshal(sess)
}

func decode(raw []byte) (session.Session, error) {
	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return session.Session{}, fmt.Errorf("redisstore: decode session: %w", err)
	}
	return sess, nil
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
