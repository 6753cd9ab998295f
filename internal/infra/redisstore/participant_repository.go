package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"study_engagement_bot/internal/domain/participant"

	"github.com/go-redis/redis/v8"
)

// KeyPrefix namespaces all participant documents in Redis.
const KeyPrefix = "study_bot:participant:"

// NewRedisClient initializes a Redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // use default DB
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return client, nil
}

// RedisParticipantRepository stores each participant as a JSON blob under a
// prefixed key. Update uses WATCH/MULTI optimistic transactions: a concurrent
// writer aborts the EXEC and surfaces as participant.ErrConflict, which the
// ledger retries with backoff.
type RedisParticipantRepository struct {
	client *redis.Client
}

func NewRedisParticipantRepository(client *redis.Client) *RedisParticipantRepository {
	return &RedisParticipantRepository{client: client}
}

func makeKey(chatID string) string {
	return KeyPrefix + chatID
}

func (r *RedisParticipantRepository) Create(ctx context.Context, rec *participant.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal participant %s: %w", rec.ChatID, err)
	}

	ok, err := r.client.SetNX(ctx, makeKey(rec.ChatID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create participant %s: %w", rec.ChatID, err)
	}
	if !ok {
		return participant.ErrDuplicate
	}
	return nil
}

func (r *RedisParticipantRepository) GetByID(ctx context.Context, chatID string) (*participant.Record, error) {
	data, err := r.client.Get(ctx, makeKey(chatID)).Result()
	if err == redis.Nil {
		return nil, participant.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant %s: %w", chatID, err)
	}

	rec := &participant.Record{}
	if err := json.Unmarshal([]byte(data), rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participant %s: %w", chatID, err)
	}
	return rec, nil
}

func (r *RedisParticipantRepository) Update(ctx context.Context, chatID string, mutate func(*participant.Record) error) (*participant.Record, error) {
	key := makeKey(chatID)
	var updated *participant.Record

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return participant.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get participant %s: %w", chatID, err)
		}

		rec := &participant.Record{}
		if err := json.Unmarshal([]byte(data), rec); err != nil {
			return fmt.Errorf("failed to unmarshal participant %s: %w", chatID, err)
		}

		if err := mutate(rec); err != nil {
			return err
		}
		rec.UpdatedAt = time.Now()

		out, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal participant %s: %w", chatID, err)
		}

		// EXEC fails if the key changed since WATCH; the caller retries.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err == nil {
			updated = rec
		}
		return err
	}

	if err := r.client.Watch(ctx, txf, key); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, participant.ErrConflict
		}
		return nil, err
	}
	return updated, nil
}

func (r *RedisParticipantRepository) ListEnabled(ctx context.Context) ([]*participant.Record, error) {
	recs := make([]*participant.Record, 0)

	iter := r.client.Scan(ctx, 0, KeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue // deleted between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get participant at %s: %w", iter.Val(), err)
		}
		rec := &participant.Record{}
		if err := json.Unmarshal([]byte(data), rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participant at %s: %w", iter.Val(), err)
		}
		if rec.NotificationsEnabled {
			recs = append(recs, rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan participants: %w", err)
	}
	return recs, nil
}
