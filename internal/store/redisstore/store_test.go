package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestVerificationCode_WrongCodeDoesNotConsume(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveVerificationCode(ctx, "a@b.com", "123456", 15*time.Minute))

	assert.ErrorIs(t, s.ConsumeVerificationCode(ctx, "a@b.com", "000000"), ErrCodeMismatch)
	assert.NoError(t, s.ConsumeVerificationCode(ctx, "A@B.com", "123456"))
	assert.ErrorIs(t, s.ConsumeVerificationCode(ctx, "a@b.com", "123456"), ErrCodeNotFound)
}

func TestVerificationCode_Expires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveVerificationCode(ctx, "a@b.com", "123456", 15*time.Minute))
	mr.FastForward(15*time.Minute + time.Second)

	assert.ErrorIs(t, s.ConsumeVerificationCode(ctx, "a@b.com", "123456"), ErrCodeNotFound)
}

func TestVerificationCode_ReissueReplaces(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveVerificationCode(ctx, "a@b.com", "111111", time.Minute))
	require.NoError(t, s.SaveVerificationCode(ctx, "a@b.com", "222222", time.Minute))

	assert.ErrorIs(t, s.ConsumeVerificationCode(ctx, "a@b.com", "111111"), ErrCodeMismatch)
	assert.NoError(t, s.ConsumeVerificationCode(ctx, "a@b.com", "222222"))
}

func TestVerificationCode_ConcurrentConsumeHasOneWinner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveVerificationCode(ctx, "a@b.com", "123456", time.Minute))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.ConsumeVerificationCode(ctx, "a@b.com", "123456") == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestEmailVerifiedMarker(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := s.ConsumeEmailVerified(ctx, "a@b.com")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MarkEmailVerified(ctx, "a@b.com", time.Minute))
	ok, err = s.ConsumeEmailVerified(ctx, "a@b.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ConsumeEmailVerified(ctx, "a@b.com")
	require.NoError(t, err)
	assert.False(t, ok, "marker is single use")
}

func TestLocker_ExclusiveUntilReleased(t *testing.T) {
	s, _ := newTestStore(t)
	l := s.Locker()
	l.retry = 5 * time.Millisecond

	unlock, err := l.Lock(context.Background(), "chat:lock:x", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "chat:lock:x", time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()

	again, err := l.Lock(context.Background(), "chat:lock:x", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLocker_ExpiredHolderCannotReleaseNewLease(t *testing.T) {
	s, mr := newTestStore(t)
	l := s.Locker()

	stale, err := l.Lock(context.Background(), "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := l.Lock(context.Background(), "k", time.Minute)
	require.NoError(t, err)

	stale()
	assert.True(t, mr.Exists("k"), "stale unlock must not delete the new lease")

	fresh()
	assert.False(t, mr.Exists("k"))
}
