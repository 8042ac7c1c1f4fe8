package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
)

// VerificationStore keeps one-time codes in Redis under
// verification:<purpose>:<email>, expiring with the key TTL.
type VerificationStore struct {
	client *redis.Client
	logger *logger.Logger
}

func NewVerificationStore(client *redis.Client, log *logger.Logger) *VerificationStore {
	return &VerificationStore{client: client, logger: log.Named("redis.verification")}
}

func verificationKey(purpose domain.VerificationPurpose, email string) string {
	return fmt.Sprintf("verification:%s:%s", purpose, email)
}

func (s *VerificationStore) Save(ctx context.Context, purpose domain.VerificationPurpose, email string, entry domain.VerificationEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal verification entry: %w", err)
	}
	key := verificationKey(purpose, email)
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.logger.Error("Redis Set failed", zap.String("key", key), zap.Error(err))
		return domain.Upstream("store verification code", err)
	}
	return nil
}

func (s *VerificationStore) Get(ctx context.Context, purpose domain.VerificationPurpose, email string) (*domain.VerificationEntry, error) {
	key := verificationKey(purpose, email)
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		s.logger.Error("Redis Get failed", zap.String("key", key), zap.Error(err))
		return nil, domain.Upstream("read verification code", err)
	}

	var entry domain.VerificationEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal verification entry: %w", err)
	}
	return &entry, nil
}

// MarkVerified flags the entry as verified without extending its expiry.
func (s *VerificationStore) MarkVerified(ctx context.Context, purpose domain.VerificationPurpose, email string) error {
	entry, err := s.Get(ctx, purpose, email)
	if err != nil {
		return err
	}
	entry.Verified = true

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal verification entry: %w", err)
	}
	key := verificationKey(purpose, email)
	err = s.client.SetArgs(ctx, key, data, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		// expired between the read and the write
		return domain.ErrNotFound
	}
	if err != nil {
		s.logger.Error("Redis SetArgs failed", zap.String("key", key), zap.Error(err))
		return domain.Upstream("mark verification code", err)
	}
	return nil
}

func (s *VerificationStore) Delete(ctx context.Context, purpose domain.VerificationPurpose, email string) error {
	key := verificationKey(purpose, email)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Error("Redis Del failed", zap.String("key", key), zap.Error(err))
		return domain.Upstream("delete verification code", err)
	}
	return nil
}
