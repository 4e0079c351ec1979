package catalog

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	previewCacheTTL     = 12 * time.Hour
	previewCacheTimeout = 300 * time.Millisecond
)

// newPreviewCacheFromEnv wires the optional Redis-backed thumbnail cache.
// Without REDIS_ADDR the vault recomputes thumbnails on every request.
func newPreviewCacheFromEnv() *previewCache {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil
	}

	password := os.Getenv("REDIS_PASSWORD")
	db := 0
	if rawDB := strings.TrimSpace(os.Getenv("REDIS_DB")); rawDB != "" {
		if parsed, err := strconv.Atoi(rawDB); err == nil {
			db = parsed
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("catalog: ping redis %s failed, preview cache disabled: %v", addr, err)
		_ = client.Close()
		return nil
	}

	return &previewCache{client: client}
}

// previewCache keeps rendered thumbnails in Redis keyed by outfit id.
type previewCache struct {
	client *redis.Client
}

// cacheContext bounds cache round trips so a slow Redis cannot stall
// thumbnail serving.
func (p *previewCache) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), previewCacheTimeout)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= previewCacheTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, previewCacheTimeout)
}

func (p *previewCache) key(id string) string {
	if p == nil || p.client == nil {
		return ""
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return ""
	}
	return "catalog:preview:" + trimmed
}

// get reads a cached thumbnail. Misses and cache failures both read as
// absent.
func (p *previewCache) get(ctx context.Context, id string) ([]byte, bool) {
	if p == nil || p.client == nil {
		return nil, false
	}
	key := p.key(id)
	if key == "" {
		return nil, false
	}

	ctx, cancel := p.cacheContext(ctx)
	defer cancel()

	data, err := p.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("catalog: read preview cache failed: %v", err)
		}
		return nil, false
	}
	return data, true
}

// store writes a rendered thumbnail back to the cache.
func (p *previewCache) store(ctx context.Context, id string, data []byte) {
	if p == nil || p.client == nil || len(data) == 0 {
		return
	}
	key := p.key(id)
	if key == "" {
		return
	}

	ctx, cancel := p.cacheContext(ctx)
	defer cancel()

	if err := p.client.Set(ctx, key, data, previewCacheTTL).Err(); err != nil {
		log.Printf("catalog: store preview cache failed: %v", err)
	}
}

// invalidate drops the cached thumbnails for the given ids.
func (p *previewCache) invalidate(ctx context.Context, ids ...string) {
	if p == nil || p.client == nil || len(ids) == 0 {
		return
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if key := p.key(id); key != "" {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return
	}

	ctx, cancel := p.cacheContext(ctx)
	defer cancel()

	if err := p.client.Del(ctx, keys...).Err(); err != nil {
		log.Printf("catalog: invalidate preview cache failed: %v", err)
	}
}
