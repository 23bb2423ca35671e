// Package cache provides a read-through caching decorator for the role
// store. Single-role lookups are served from a two-tier cache: an
// in-process LRU in front of Redis. Query-shaped reads (FindMany,
// CountWhere) always go to the backing store since their result sets are
// filter-dependent.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/roles"
)

// Config holds cache tier settings.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MaxRetries    int
	PoolSize      int
	L1Size        int
	TTL           time.Duration
}

// Store decorates a roles.Store with L1 (LRU) and L2 (Redis) caching of
// single-role reads. Every mutation invalidates both tiers before it
// returns, so readers on this node never see a stale entry after a write
// they observed.
type Store struct {
	backing roles.Store
	l1      *lru.Cache[string, *roles.Role]
	redis   *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

// New connects to Redis and wraps the backing store.
func New(backing roles.Store, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		MaxRetries: cfg.MaxRetries,
		PoolSize:   cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewWithClient(backing, client, cfg.L1Size, cfg.TTL)
}

// NewWithClient wraps the backing store using an existing Redis client.
// Used by New and by tests.
func NewWithClient(backing roles.Store, client *redis.Client, l1Size int, ttl time.Duration) (*Store, error) {
	if l1Size <= 0 {
		l1Size = 1024
	}
	l1, err := lru.New[string, *roles.Role](l1Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create L1 cache: %w", err)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{backing: backing, l1: l1, redis: client, ttl: ttl}, nil
}

// WithMetrics attaches cache hit/miss metrics.
func (s *Store) WithMetrics(m *observability.Metrics) *Store {
	s.metrics = m
	return s
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.redis.Close()
}

func idKey(id string) string          { return "role:id:" + id }
func nameKey(n roles.RoleName) string { return "role:name:" + string(n) }

// FindByID serves the lookup from L1, then L2, then the backing store.
func (s *Store) FindByID(ctx context.Context, id string) (*roles.Role, error) {
	return s.lookup(ctx, idKey(id), func() (*roles.Role, error) {
		return s.backing.FindByID(ctx, id)
	})
}

// FindByName serves the lookup from L1, then L2, then the backing store.
func (s *Store) FindByName(ctx context.Context, name roles.RoleName) (*roles.Role, error) {
	return s.lookup(ctx, nameKey(name), func() (*roles.Role, error) {
		return s.backing.FindByName(ctx, name)
	})
}

// lookup implements the read-through path. Absent roles are not negatively
// cached; (nil, nil) results always hit the backing store.
func (s *Store) lookup(ctx context.Context, key string, fetch func() (*roles.Role, error)) (*roles.Role, error) {
	if role, ok := s.l1.Get(key); ok {
		s.hit("l1")
		return role.Clone(), nil
	}
	s.miss("l1")

	if data, err := s.redis.Get(ctx, key).Result(); err == nil {
		var role roles.Role
		if err := json.Unmarshal([]byte(data), &role); err == nil {
			s.hit("l2")
			s.l1.Add(key, &role)
			return role.Clone(), nil
		}
	}
	s.miss("l2")

	role, err := fetch()
	if err != nil || role == nil {
		return role, err
	}

	s.l1.Add(key, role.Clone())
	if data, err := json.Marshal(role); err == nil {
		s.redis.Set(ctx, key, data, s.ttl)
	}
	return role, nil
}

// Insert writes through and primes nothing; the next read populates the
// cache.
func (s *Store) Insert(ctx context.Context, role *roles.Role) (*roles.Role, error) {
	created, err := s.backing.Insert(ctx, role)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, created)
	return created, nil
}

// UpdateByID writes through and invalidates the touched role.
func (s *Store) UpdateByID(ctx context.Context, id string, patch roles.Patch) (*roles.Role, error) {
	// The old name binding must go too in case the patch renamed the role.
	old, _ := s.backing.FindByID(ctx, id)

	updated, err := s.backing.UpdateByID(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, old)
	s.invalidate(ctx, updated)
	return updated, nil
}

// UpdateMany writes through and drops both tiers entirely; the filter can
// touch an unbounded set of roles.
func (s *Store) UpdateMany(ctx context.Context, filter roles.Filter, patch roles.Patch) (int, error) {
	count, err := s.backing.UpdateMany(ctx, filter, patch)
	if err != nil {
		return 0, err
	}
	s.purge(ctx)
	return count, nil
}

// DeleteByID writes through and invalidates the deleted role.
func (s *Store) DeleteByID(ctx context.Context, id string) (bool, error) {
	old, _ := s.backing.FindByID(ctx, id)

	deleted, err := s.backing.DeleteByID(ctx, id)
	if err != nil {
		return false, err
	}
	s.invalidate(ctx, old)
	return deleted, nil
}

// FindMany always reads from the backing store.
func (s *Store) FindMany(ctx context.Context, filter roles.Filter, opts roles.FindOptions) ([]*roles.Role, error) {
	return s.backing.FindMany(ctx, filter, opts)
}

// CountWhere always reads from the backing store.
func (s *Store) CountWhere(ctx context.Context, filter roles.Filter) (int, error) {
	return s.backing.CountWhere(ctx, filter)
}

func (s *Store) invalidate(ctx context.Context, role *roles.Role) {
	if role == nil {
		return
	}
	s.l1.Remove(idKey(role.ID))
	s.l1.Remove(nameKey(role.Name))
	s.redis.Del(ctx, idKey(role.ID), nameKey(role.Name))
}

func (s *Store) purge(ctx context.Context) {
	s.l1.Purge()
	iter := s.redis.Scan(ctx, 0, "role:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		s.redis.Del(ctx, keys...)
	}
}

func (s *Store) hit(tier string) {
	if s.metrics != nil {
		s.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	}
}

func (s *Store) miss(tier string) {
	if s.metrics != nil {
		s.metrics.CacheMissesTotal.WithLabelValues(tier).Inc()
	}
}
