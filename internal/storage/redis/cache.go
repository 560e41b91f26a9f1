package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) *Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	client := redis.NewClient(opt)

	return &Client{client}
}

func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.Set(ctx, key, data, expiration).Err()
}

func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), dest)
}

// Status snapshots are cached briefly so status polling does not hammer
// Postgres while a worker is still writing.
func (c *Client) CacheRequestStatus(ctx context.Context, requestID string, status interface{}) error {
	key := fmt.Sprintf("request:status:%s", requestID)
	return c.SetJSON(ctx, key, status, 10*time.Second)
}

func (c *Client) GetCachedRequestStatus(ctx context.Context, requestID string, dest interface{}) error {
	key := fmt.Sprintf("request:status:%s", requestID)
	return c.GetJSON(ctx, key, dest)
}

func (c *Client) InvalidateRequestStatus(ctx context.Context, requestID string) error {
	key := fmt.Sprintf("request:status:%s", requestID)
	return c.Del(ctx, key).Err()
}

// Domain info lookups (whois + MX) are slow and stable; cache them longer.
func (c *Client) CacheDomainInfo(ctx context.Context, domain string, info interface{}) error {
	key := fmt.Sprintf("domain:info:%s", domain)
	return c.SetJSON(ctx, key, info, time.Hour)
}

func (c *Client) GetCachedDomainInfo(ctx context.Context, domain string, dest interface{}) error {
	key := fmt.Sprintf("domain:info:%s", domain)
	return c.GetJSON(ctx, key, dest)
}
