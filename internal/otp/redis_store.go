package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"

	"github.com/example/reliefportal/internal/models"
)

// ErrRedisUnavailable wraps transport failures from Redis.
var ErrRedisUnavailable = errors.New("otp redis unavailable")

// RedisStore keeps the single live challenge for each mobile and purpose
// under one key whose TTL matches the challenge expiry. Writing a new
// challenge replaces the previous one, consuming a challenge deletes it.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// redisChallenge is keyed by a ksuid whose payload is the challenge ID, so a
// record names itself and sorts by creation time.
type redisChallenge struct {
	Key       string    `json:"k"`
	CodeHash  string    `json:"h"`
	CreatedAt time.Time `json:"c"`
	ExpiresAt time.Time `json:"e"`
}

// NewRedisStore constructs a RedisStore. prefix defaults to "otp".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "otp"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(mobile, purpose string) string {
	return s.prefix + ":" + purpose + ":" + mobile
}

func (s *RedisStore) Create(ctx context.Context, c *models.OTPChallenge) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = c.CreatedAt

	ttl := c.ExpiresAt.Sub(c.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("otp: challenge already expired")
	}

	kid, err := recordKey(c)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(redisChallenge{
		Key:       kid.String(),
		CodeHash:  c.CodeHash,
		CreatedAt: c.CreatedAt,
		ExpiresAt: c.ExpiresAt,
	})
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(c.Mobile, c.Purpose), payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Latest(ctx context.Context, mobile string, purpose Purpose, now time.Time) (*models.OTPChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(mobile, string(purpose))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rc, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	c, err := rc.toModel(mobile, string(purpose))
	if err != nil {
		return nil, err
	}
	// TTL eviction is best effort; the expiry recorded in the value is authoritative.
	if !c.Live(now) {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *RedisStore) MarkUsed(ctx context.Context, c *models.OTPChallenge, now time.Time) error {
	key := s.key(c.Mobile, c.Purpose)
	want, err := recordKey(c)
	if err != nil {
		return ErrNotFound
	}

	const maxRetries = 4
	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			rc, err := decodeChallenge(data)
			if err != nil {
				return err
			}
			if rc.Key != want.String() || !now.Before(rc.ExpiresAt) {
				return ErrNotFound
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			c.Used = true
			c.UsedAt = &now
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil), errors.Is(err, ErrNotFound):
			return ErrNotFound
		default:
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return ErrNotFound
}

func decodeChallenge(data []byte) (*redisChallenge, error) {
	var rc redisChallenge
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("otp: decode challenge: %w", err)
	}
	return &rc, nil
}

// recordKey derives the ksuid naming c from its creation time and ID.
func recordKey(c *models.OTPChallenge) (ksuid.KSUID, error) {
	return ksuid.FromParts(c.CreatedAt, c.ID[:])
}

func (rc *redisChallenge) toModel(mobile, purpose string) (*models.OTPChallenge, error) {
	kid, err := ksuid.Parse(rc.Key)
	if err != nil {
		return nil, fmt.Errorf("otp: decode challenge key: %w", err)
	}
	id, err := uuid.FromBytes(kid.Payload())
	if err != nil {
		return nil, fmt.Errorf("otp: decode challenge key: %w", err)
	}

	c := &models.OTPChallenge{
		Mobile:    mobile,
		Purpose:   purpose,
		CodeHash:  rc.CodeHash,
		ExpiresAt: rc.ExpiresAt,
	}
	c.ID = id
	c.CreatedAt = rc.CreatedAt
	c.UpdatedAt = rc.CreatedAt
	return c, nil
}
