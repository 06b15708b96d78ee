// Package resetkey stores password reset keys in Redis.
//
// One record is kept per login, so issuing a new key replaces any earlier
// one. Only the SHA-256 hash of a key is stored. Records outlive their
// expiry by domain.ExpiredKeyRetention so a stale link can be reported as
// expired instead of invalid.
package resetkey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DukeRupert/brandedflow/internal/domain"
)

const (
	defaultPrefix = "brandedflow:rp"
	maxRetries    = 4
)

// ErrUnavailable wraps Redis failures so callers can tell an outage apart
// from a bad key.
var ErrUnavailable = errors.New("reset key store unavailable")

// Store persists reset key records.
type Store struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the Redis key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL sets how long issued keys stay valid.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a Store on top of an existing client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		redis:  client,
		prefix: defaultPrefix,
		ttl:    domain.PasswordResetKeyDuration,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(login string) string {
	return s.prefix + ":" + strings.ToLower(strings.TrimSpace(login))
}

// GenerateKey returns a random hex-encoded key.
func GenerateKey() (string, error) {
	b := make([]byte, domain.TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashKey returns the hex SHA-256 of a raw key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Issue creates a fresh key for the user and stores its hash, replacing any
// earlier key for the same login.
func (s *Store) Issue(ctx context.Context, userID, login string) (*domain.ResetKeyResult, error) {
	raw, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	now := s.now()
	record := domain.ResetKeyRecord{
		UserID:    userID,
		Login:     login,
		KeyHash:   HashKey(raw),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode reset key: %w", err)
	}

	if err := s.redis.Set(ctx, s.key(login), data, s.ttl+domain.ExpiredKeyRetention).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &domain.ResetKeyResult{
		Key:       raw,
		Login:     login,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// Check validates key against the stored record without consuming it.
//
// Returns domain.ErrResetKeyInvalid when no record exists or the hash does
// not match, and domain.ErrResetKeyExpired when the key matched but is past
// its lifetime.
func (s *Store) Check(ctx context.Context, login, key string) (*domain.ResetKeyRecord, error) {
	data, err := s.redis.Get(ctx, s.key(login)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrResetKeyInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.verify(data, key)
}

// Consume validates key and deletes the record in the same transaction.
// A key can be consumed at most once.
func (s *Store) Consume(ctx context.Context, login, key string) (*domain.ResetKeyRecord, error) {
	rkey := s.key(login)

	for i := 0; i < maxRetries; i++ {
		var matched *domain.ResetKeyRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, rkey).Bytes()
			if err != nil {
				return err
			}

			record, err := s.verify(data, key)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, rkey)
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, rkey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, domain.ErrResetKeyInvalid
			case errors.Is(err, domain.ErrResetKeyInvalid), errors.Is(err, domain.ErrResetKeyExpired):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, domain.ErrResetKeyInvalid
}

// Revoke removes any key issued for login.
func (s *Store) Revoke(ctx context.Context, login string) error {
	if err := s.redis.Del(ctx, s.key(login)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) verify(data []byte, key string) (*domain.ResetKeyRecord, error) {
	var record domain.ResetKeyRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, domain.ErrResetKeyInvalid
	}

	provided := HashKey(key)
	if subtle.ConstantTimeCompare([]byte(record.KeyHash), []byte(provided)) != 1 {
		return nil, domain.ErrResetKeyInvalid
	}

	if record.IsExpired(s.now()) {
		return nil, domain.ErrResetKeyExpired
	}

	return &record, nil
}
