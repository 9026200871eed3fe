package targetcache

import (
	"context"
	"sort"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
}

// NewRedisStore constructs a Redis backed Store. The connection is verified
// before use so a misconfigured address fails at startup, not mid-sweep.
func NewRedisStore(addr, password string, db int, prefix string, logger *slog.Logger) (Store, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisStore{client: client, logger: logger, prefix: prefix}, nil
}

func (s *redisStore) key(deploymentID string) string {
	return s.prefix + deploymentID
}

// Replace deletes and repopulates the set inside a MULTI/EXEC transaction so
// readers never observe a partially written set.
func (s *redisStore) Replace(ctx context.Context, deploymentID string, computerIDs []string) error {
	key := s.key(deploymentID)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(computerIDs) > 0 {
		members := make([]any, len(computerIDs))
		for i, id := range computerIDs {
			members[i] = id
		}
		pipe.SAdd(ctx, key, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logRedisError("replace", err)
		return err
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, deploymentID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.key(deploymentID)).Result()
	if err != nil {
		s.logRedisError("smembers", err)
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *redisStore) Delete(ctx context.Context, deploymentID string) error {
	if err := s.client.Del(ctx, s.key(deploymentID)).Err(); err != nil {
		s.logRedisError("del", err)
		return err
	}
	return nil
}

func (s *redisStore) Close() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

func (s *redisStore) logRedisError(op string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Error("target cache redis error", "op", op, "error", err)
}
