package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aljazceru/ditto/internal/config"
)

// Membership is a bounded recent-membership test over event ids. It is a
// throughput optimization only; the storage layer's unique-key constraint is
// the real duplicate authority.
type Membership interface {
	// TestAndSet reports whether id was already present, then marks it
	// present unconditionally.
	TestAndSet(ctx context.Context, id string) (bool, error)
}

// New creates the membership cache selected by the configuration
func New(cfg *config.Cache) (Membership, error) {
	switch cfg.Engine {
	case "memory":
		return NewLRU(cfg.DedupCapacity), nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		ttl := time.Duration(cfg.DedupTTLSecs) * time.Second
		return NewRedis(redis.NewClient(opts), ttl), nil
	default:
		return nil, fmt.Errorf("unsupported cache engine: %s", cfg.Engine)
	}
}

// LRU is an in-process bounded LRU membership set
type LRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

// NewLRU creates an LRU membership set with the given capacity
func NewLRU(capacity int) *LRU {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// TestAndSet reports prior membership and marks id as recently seen
func (c *LRU) TestAndSet(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[id]; ok {
		c.order.MoveToFront(el)
		return true, nil
	}

	c.entries[id] = c.order.PushFront(id)
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(string))
	}
	return false, nil
}

// Len returns the current number of cached ids
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Redis is a shared membership set backed by a redis instance, for
// deployments running multiple ingestion processes
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a redis-backed membership set
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// TestAndSet reports prior membership and marks id as recently seen
func (c *Redis) TestAndSet(ctx context.Context, id string) (bool, error) {
	set, err := c.client.SetNX(ctx, "ditto:seen:"+id, 1, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to test-and-set id: %w", err)
	}
	return !set, nil
}

// Close releases the underlying redis connection
func (c *Redis) Close() error {
	return c.client.Close()
}
