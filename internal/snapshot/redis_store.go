package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

// RedisStore 將快照保存為單一 Redis 字串鍵
//
// 適用於 kiosk 本機磁碟不可靠、但同網段有 Redis 的部署
type RedisStore struct {
	rdb     *redis.Client
	key     string
	timeout time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore 建立 Redis 快照後端；key 例如 "fbs-kiosk:snapshot:checkout"
func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	return &RedisStore{rdb: rdb, key: key, timeout: 3 * time.Second}
}

func (s *RedisStore) Write(data types.SnapshotData) error {
	jsonBytes, err := encode(data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.rdb.Set(ctx, s.key, jsonBytes, 0).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Load() (types.SnapshotData, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	jsonBytes, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return empty(), nil
	}
	if err != nil {
		return types.SnapshotData{}, fmt.Errorf("failed to read snapshot %s: %w", s.key, err)
	}
	return decode(jsonBytes)
}

// Key 回傳快照使用的 Redis 鍵
func (s *RedisStore) Key() string {
	return s.key
}
