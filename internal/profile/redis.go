package profile

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"firestige.xyz/resmeter/internal/config"
	"firestige.xyz/resmeter/internal/log"
)

const redisTimeout = 2 * time.Second

// RedisStore keeps one hash per player.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", cfg.Addr, err)
	}

	return &RedisStore{client: client, prefix: cfg.KeyPrefix}, nil
}

func (s *RedisStore) key(uid uint64) string {
	return s.prefix + strconv.FormatUint(uid, 10)
}

func (s *RedisStore) Load(uid uint64) (Profile, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, s.key(uid)).Result()
	if err != nil {
		log.GetLogger().WithError(err).WithField("uid", uid).Debug("profile lookup failed")
		return Profile{}, false
	}
	if len(fields) == 0 {
		return Profile{}, false
	}
	p := Profile{Name: fields["name"], Profession: fields["profession"]}
	if fp, err := strconv.ParseInt(fields["fight_point"], 10, 64); err == nil {
		p.FightPoint = fp
	}
	return p, true
}

func (s *RedisStore) Save(uid uint64, p Profile) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	values := make([]interface{}, 0, 6)
	if p.Name != "" {
		values = append(values, "name", p.Name)
	}
	if p.Profession != "" {
		values = append(values, "profession", p.Profession)
	}
	if p.FightPoint != 0 {
		values = append(values, "fight_point", p.FightPoint)
	}
	if len(values) == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, s.key(uid), values...).Err(); err != nil {
		return fmt.Errorf("failed to save profile %d: %w", uid, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
