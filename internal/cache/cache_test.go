package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/aljazceru/ditto/internal/config"
)

func TestLRUTestAndSet(t *testing.T) {
	c := NewLRU(10)
	ctx := context.Background()

	seen, err := c.TestAndSet(ctx, "a")
	if err != nil {
		t.Fatalf("TestAndSet() error = %v", err)
	}
	if seen {
		t.Error("expected first insert to report unseen")
	}

	seen, err = c.TestAndSet(ctx, "a")
	if err != nil {
		t.Fatalf("TestAndSet() error = %v", err)
	}
	if !seen {
		t.Error("expected second insert to report seen")
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRU(3)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		c.TestAndSet(ctx, id)
	}

	// Touch "a" so it becomes most recent, then push one more
	c.TestAndSet(ctx, "a")
	c.TestAndSet(ctx, "d")

	if c.Len() != 3 {
		t.Errorf("expected capacity 3, got %d", c.Len())
	}

	// "b" was least recently used and should be gone
	seen, _ := c.TestAndSet(ctx, "b")
	if seen {
		t.Error("expected evicted id to report unseen")
	}

	// "a" survived the eviction
	seen, _ = c.TestAndSet(ctx, "a")
	if !seen {
		t.Error("expected touched id to survive eviction")
	}
}

func TestLRUConcurrent(t *testing.T) {
	c := NewLRU(100)
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				c.TestAndSet(ctx, fmt.Sprintf("id-%d-%d", n, j%50))
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	if c.Len() > 100 {
		t.Errorf("expected at most 100 entries, got %d", c.Len())
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.Cache
		wantErr bool
	}{
		{
			name:    "memory engine",
			cfg:     &config.Cache{Engine: "memory", DedupCapacity: 10},
			wantErr: false,
		},
		{
			name:    "redis engine with bad url",
			cfg:     &config.Cache{Engine: "redis", RedisURL: "://nope"},
			wantErr: true,
		},
		{
			name:    "unknown engine",
			cfg:     &config.Cache{Engine: "memcached"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
