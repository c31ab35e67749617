package redisstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCodeNotFound = errors.New("verification code not found")
	ErrCodeMismatch = errors.New("verification code mismatch")
)

// consumeScript deletes the code only when it matches, so concurrent checks
// of one email see exactly one success.
var consumeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
	return -1
end
if v ~= ARGV[1] then
	return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

func codeKey(email string) string {
	return "verify:code:" + strings.ToLower(strings.TrimSpace(email))
}

func verifiedKey(email string) string {
	return "verify:ok:" + strings.ToLower(strings.TrimSpace(email))
}

// SaveVerificationCode replaces any live code for the email.
func (s *Store) SaveVerificationCode(ctx context.Context, email, code string, ttl time.Duration) error {
	return s.client.Set(ctx, codeKey(email), code, ttl).Err()
}

// ConsumeVerificationCode deletes the code if it matches. A wrong code leaves
// it in place.
func (s *Store) ConsumeVerificationCode(ctx context.Context, email, code string) error {
	n, err := consumeScript.Run(ctx, s.client, []string{codeKey(email)}, code).Int()
	if err != nil {
		return err
	}
	switch n {
	case 1:
		return nil
	case 0:
		return ErrCodeMismatch
	default:
		return ErrCodeNotFound
	}
}

func (s *Store) MarkEmailVerified(ctx context.Context, email string, ttl time.Duration) error {
	return s.client.Set(ctx, verifiedKey(email), "1", ttl).Err()
}

// ConsumeEmailVerified reports whether the email was verified recently and
// clears the marker.
func (s *Store) ConsumeEmailVerified(ctx context.Context, email string) (bool, error) {
	err := s.client.GetDel(ctx, verifiedKey(email)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
