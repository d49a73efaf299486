package streamstate

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const cacheFileSuffix = ".livestream-cache"

// ProbeCache stores serialized probe results by media path.
// A miss is reported as os.ErrNotExist.
type ProbeCache interface {
	Get(ctx context.Context, mediaPath string) ([]byte, error)
	Set(ctx context.Context, mediaPath string, data []byte) error
}

func cacheKey(mediaPath string) string {
	h := sha1.Sum([]byte(mediaPath))
	return hex.EncodeToString(h[:])
}

// FileProbeCache looks up a cache file next to the media first, then in Dir.
type FileProbeCache struct {
	logger zerolog.Logger
	dir    string
}

func NewFileProbeCache(dir string) *FileProbeCache {
	return &FileProbeCache{
		logger: log.With().Str("module", "streamstate").Str("submodule", "file-cache").Logger(),
		dir:    dir,
	}
}

func (c *FileProbeCache) Get(ctx context.Context, mediaPath string) ([]byte, error) {
	localCachePath := mediaPath + cacheFileSuffix
	if _, err := os.Stat(localCachePath); err == nil {
		c.logger.Debug().Str("path", localCachePath).Msg("media local cache hit")
		return os.ReadFile(localCachePath)
	}

	if c.dir == "" {
		return nil, os.ErrNotExist
	}

	globalCachePath := filepath.Join(c.dir, cacheKey(mediaPath)+cacheFileSuffix)
	if _, err := os.Stat(globalCachePath); err == nil {
		c.logger.Debug().Str("path", globalCachePath).Msg("media global cache hit")
		return os.ReadFile(globalCachePath)
	}

	return nil, os.ErrNotExist
}

// Set writes to the global cache dir, or next to the media when no dir is configured.
func (c *FileProbeCache) Set(ctx context.Context, mediaPath string, data []byte) error {
	if c.dir == "" {
		return os.WriteFile(mediaPath+cacheFileSuffix, data, 0644)
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return err
	}

	globalCachePath := filepath.Join(c.dir, cacheKey(mediaPath)+cacheFileSuffix)
	return os.WriteFile(globalCachePath, data, 0644)
}

// RedisProbeCache shares probe results between server instances.
type RedisProbeCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisProbeCache(url string, ttl time.Duration) (*RedisProbeCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &RedisProbeCache{
		client: redis.NewClient(opts),
		ttl:    ttl,
	}, nil
}

func (c *RedisProbeCache) key(mediaPath string) string {
	return "livestream:probe:" + cacheKey(mediaPath)
}

func (c *RedisProbeCache) Get(ctx context.Context, mediaPath string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.key(mediaPath)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, os.ErrNotExist
	}
	return data, err
}

func (c *RedisProbeCache) Set(ctx context.Context, mediaPath string, data []byte) error {
	return c.client.Set(ctx, c.key(mediaPath), data, c.ttl).Err()
}

func (c *RedisProbeCache) Close() error {
	return c.client.Close()
}
