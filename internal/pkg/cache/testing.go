package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewTestClient returns a client on an isolated, flushed Redis database.
// The test is skipped when no Redis is reachable.
func NewTestClient(t testing.TB, db int) *redis.Client {
	t.Helper()

	hosts := []string{os.Getenv("CACHE_HOST"), "cache", "localhost", "127.0.0.1"}
	port := os.Getenv("CACHE_PORT")
	if port == "" {
		port = "6379"
	}
	password := os.Getenv("CACHE_PASSWORD")

	var lastErr error
	for _, host := range hosts {
		if host == "" {
			continue
		}
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", host, port),
			Password: password,
			DB:       db,
		})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			lastErr = err
			continue
		}
		if err := client.FlushDB(context.Background()).Err(); err != nil {
			_ = client.Close()
			t.Fatalf("failed to flush isolated redis db %d: %v", db, err)
		}
		t.Cleanup(func() {
			_ = client.FlushDB(context.Background()).Err()
			_ = client.Close()
		})
		return client
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}
