package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"yourturn-backend/config"
)

// NewClient 创建Redis客户端并测试连接。
// 连接失败时返回错误，调用方可降级为无Redis模式运行
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	log.Printf("初始化Redis连接, 地址: %s", cfg.Addr)

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 3 * time.Second,
		ReadTimeout: 3 * time.Second,
		PoolSize:    20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrRedisNotAvailable, err)
	}

	log.Println("Redis连接初始化成功")
	return client, nil
}

// Close 关闭Redis连接，client为nil时忽略
func Close(client *redis.Client) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		log.Printf("关闭Redis连接错误: %v", err)
		return
	}
	log.Println("Redis连接已关闭")
}
