package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// TallyCache 问题计票结果缓存，带击穿保护（互斥锁）。
// 未配置Redis时直接调用加载函数
type TallyCache struct {
	redisClient RedisClient
	locker      Locker
	ttl         time.Duration
}

// NewTallyCache 创建计票缓存，client为nil时不缓存
func NewTallyCache(client RedisClient, locker Locker, ttl time.Duration) *TallyCache {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &TallyCache{redisClient: client, locker: locker, ttl: ttl}
}

func lockName(questionID string) string {
	return fmt.Sprintf("tally_lock:%s", questionID)
}

func tallyKey(questionID string) string {
	return fmt.Sprintf("tally:%s", questionID)
}

// Fetch 读取缓存写入out，未命中时调用load填充out并回写缓存
func (c *TallyCache) Fetch(ctx context.Context, questionID string, out interface{}, load func() error) error {
	if c == nil || c.redisClient == nil {
		return load()
	}

	key := tallyKey(questionID)
	if c.get(ctx, key, out) == nil {
		return nil
	}

	err := c.locker.WithLock(ctx, lockName(questionID), 3*time.Second, func() error {
		// 双重检查，可能其他请求已经填充了缓存
		if c.get(ctx, key, out) == nil {
			return nil
		}
		if err := load(); err != nil {
			return err
		}
		c.set(ctx, key, out)
		return nil
	})
	if errors.Is(err, ErrLockNotAcquired) {
		log.Printf("获取计票缓存锁失败，直接加载: %s", questionID)
		return load()
	}
	return err
}

// Invalidate 删除问题的计票缓存。
// 与重建共用同一把锁，正在重建的旧结果写入后才会被删除
func (c *TallyCache) Invalidate(ctx context.Context, questionID string) {
	if c == nil || c.redisClient == nil {
		return
	}

	key := tallyKey(questionID)
	del := func() error {
		return c.redisClient.Del(ctx, key).Err()
	}
	err := c.locker.WithLock(ctx, lockName(questionID), 3*time.Second, del)
	if errors.Is(err, ErrLockNotAcquired) {
		log.Printf("获取计票缓存锁失败，直接删除: %s", questionID)
		err = del()
	}
	if err != nil {
		log.Printf("删除计票缓存失败: %s: %v", questionID, err)
	}
}

func (c *TallyCache) get(ctx context.Context, key string, out interface{}) error {
	data, err := c.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		log.Printf("读取计票缓存失败: %s: %v", key, err)
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		log.Printf("解析缓存数据失败: %v", err)
		return err
	}
	return nil
}

func (c *TallyCache) set(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("序列化计票结果失败: %v", err)
		return
	}
	// 使用随机过期时间，避免缓存雪崩
	expiration := c.ttl + time.Duration(rand.Int63n(int64(c.ttl/10)+1))
	if err := c.redisClient.Set(ctx, key, data, expiration).Err(); err != nil {
		log.Printf("写入计票缓存失败: %s: %v", key, err)
	}
}
