package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"yourturn-backend/events"
)

// 消息队列的队列名称常量
const (
	MainQueueName       = "yourturn_event_queue"       // 主队列
	ProcessingQueueName = "yourturn_event_processing"  // 处理中队列
	DeadLetterQueueName = "yourturn_event_dead_letter" // 死信队列
	RetriesHashName     = "yourturn_event_retries"     // 重试次数记录
	ProcessedSetName    = "yourturn_event_processed"   // 已处理消息ID
)

// QueueClient RedisMQ用到的Redis命令，*redis.Client 直接满足该接口
type QueueClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPopLPush(ctx context.Context, source, destination string, timeout time.Duration) *redis.StringCmd
	LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HIncrBy(ctx context.Context, key, field string, incr int64) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
}

var _ QueueClient = (*redis.Client)(nil)

// Handler 事件消息处理函数
type Handler func(ctx context.Context, e events.Event) error

// RedisMQ 基于Redis List实现的可靠事件队列
type RedisMQ struct {
	client            QueueClient
	ctx               context.Context
	processHandler    Handler
	mu                sync.Mutex
	isRunning         bool
	stopChan          chan struct{}
	wg                sync.WaitGroup
	processingTimeout time.Duration // 消息处理超时时间
	retryDelay        time.Duration // 重试延迟
	maxRetries        int           // 最大重试次数
	popTimeout        time.Duration
}

// NewRedisMQ 创建基于Redis的消息队列
func NewRedisMQ(client QueueClient) *RedisMQ {
	return &RedisMQ{
		client:            client,
		ctx:               context.Background(),
		stopChan:          make(chan struct{}),
		processingTimeout: 5 * time.Minute,  // 默认5分钟超时
		retryDelay:        30 * time.Second, // 默认30秒重试延迟
		maxRetries:        3,                // 默认最大重试3次
		popTimeout:        time.Second,
	}
}

// Name 实现 events.Sink
func (r *RedisMQ) Name() string {
	return "redis"
}

// Publish 发送事件到主队列
func (r *RedisMQ) Publish(ctx context.Context, e events.Event) error {
	body, err := encodeEvent(e)
	if err != nil {
		return err
	}
	if err := r.client.LPush(ctx, MainQueueName, body).Err(); err != nil {
		return fmt.Errorf("发送消息到队列失败: %w", err)
	}
	return nil
}

// RegisterHandler 注册消息处理函数
func (r *RedisMQ) RegisterHandler(handler Handler) {
	r.processHandler = handler
}

// Start 启动消费者
func (r *RedisMQ) Start() error {
	if r.processHandler == nil {
		return fmt.Errorf("处理函数未注册")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return nil // 已经在运行中
	}
	r.isRunning = true

	// 启动主消费循环
	r.wg.Add(1)
	go r.consumeLoop()

	// 启动处理中消息的超时检查
	r.wg.Add(1)
	go r.timeoutCheckLoop()

	log.Println("Redis消息队列消费者已启动")
	return nil
}

// Stop 关闭消费者
func (r *RedisMQ) Stop() {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return
	}
	r.isRunning = false
	r.mu.Unlock()

	log.Println("正在关闭Redis消息队列消费者...")
	close(r.stopChan)
	r.wg.Wait()
	log.Println("Redis消息队列消费者已关闭")
}

// 主消费循环
func (r *RedisMQ) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopChan:
			return
		default:
			// 使用BRPOPLPUSH原子操作从主队列获取并移动到处理中队列
			result, err := r.client.BRPopLPush(r.ctx, MainQueueName, ProcessingQueueName, r.popTimeout).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) { // 忽略超时错误
					log.Printf("从队列获取消息失败: %v", err)
					time.Sleep(r.popTimeout)
				}
				continue
			}

			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.processMessage(result)
			}()
		}
	}
}

// 超时检查循环
func (r *RedisMQ) timeoutCheckLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.checkTimeouts()
		}
	}
}

// 处理超时的消息重新入队
func (r *RedisMQ) checkTimeouts() {
	messages, err := r.client.LRange(r.ctx, ProcessingQueueName, 0, -1).Result()
	if err != nil {
		log.Printf("获取处理中队列消息失败: %v", err)
		return
	}

	now := time.Now().Unix()
	for _, msgData := range messages {
		var msg EventMessage
		if err := json.Unmarshal([]byte(msgData), &msg); err != nil {
			log.Printf("解析消息数据失败: %v", err)
			r.moveToDeadLetter(msgData)
			continue
		}
		if now-msg.Timestamp > int64(r.processingTimeout.Seconds()) {
			r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)
			r.retryOrDeadLetter(msg, msgData)
		}
	}
}

// 处理单个消息
func (r *RedisMQ) processMessage(msgData string) {
	var msg EventMessage
	if err := json.Unmarshal([]byte(msgData), &msg); err != nil {
		log.Printf("解析消息失败: %v", err)
		r.moveToDeadLetter(msgData)
		return
	}

	// 幂等性检查
	if done, err := r.client.SIsMember(r.ctx, ProcessedSetName, msg.MessageID).Result(); err == nil && done {
		log.Printf("消息已处理过，跳过: %s", msg.MessageID)
		r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)
		return
	}

	if err := r.processHandler(r.ctx, msg.Event); err != nil {
		log.Printf("处理消息失败: id=%s type=%s err=%v", msg.MessageID, msg.Event.Type, err)
		r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)
		r.retryOrDeadLetter(msg, msgData)
		return
	}

	r.client.SAdd(r.ctx, ProcessedSetName, msg.MessageID)
	r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)
}

func (r *RedisMQ) retryOrDeadLetter(msg EventMessage, msgData string) {
	retries, _ := r.client.HGet(r.ctx, RetriesHashName, msg.MessageID).Int()
	if retries >= r.maxRetries {
		log.Printf("消息 %s 超过最大重试次数，移至死信队列", msg.MessageID)
		r.client.LPush(r.ctx, DeadLetterQueueName, msgData)
		return
	}

	r.client.HIncrBy(r.ctx, RetriesHashName, msg.MessageID, 1)
	msg.Timestamp = time.Now().Unix()
	updated, _ := json.Marshal(msg)

	// 延迟重试
	time.AfterFunc(r.retryDelay, func() {
		r.client.LPush(r.ctx, MainQueueName, updated)
		log.Printf("消息 %s 重新入队，重试次数: %d", msg.MessageID, retries+1)
	})
}

// 将消息移动到死信队列
func (r *RedisMQ) moveToDeadLetter(msgData string) {
	r.client.LPush(r.ctx, DeadLetterQueueName, msgData)
	r.client.LRem(r.ctx, ProcessingQueueName, 1, msgData)
}

// RetryDeadLetters 将死信队列中的消息移回主队列
func (r *RedisMQ) RetryDeadLetters(ctx context.Context) (int, error) {
	messages, err := r.client.LRange(ctx, DeadLetterQueueName, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("获取死信队列消息失败: %w", err)
	}

	count := 0
	for _, msgData := range messages {
		if err := r.client.LPush(ctx, MainQueueName, msgData).Err(); err != nil {
			log.Printf("重新入队消息失败: %v", err)
			continue
		}
		r.client.LRem(ctx, DeadLetterQueueName, 1, msgData)

		// 重置重试计数
		var msg EventMessage
		if json.Unmarshal([]byte(msgData), &msg) == nil {
			r.client.HDel(ctx, RetriesHashName, msg.MessageID)
		}
		count++
	}

	log.Printf("成功将 %d 条消息从死信队列移回主队列", count)
	return count, nil
}

// GetQueueStats 获取各队列的消息数量统计
func (r *RedisMQ) GetQueueStats(ctx context.Context) map[string]int64 {
	stats := make(map[string]int64)

	mainLen, _ := r.client.LLen(ctx, MainQueueName).Result()
	procLen, _ := r.client.LLen(ctx, ProcessingQueueName).Result()
	deadLen, _ := r.client.LLen(ctx, DeadLetterQueueName).Result()

	stats["main_queue"] = mainLen
	stats["processing_queue"] = procLen
	stats["dead_letter_queue"] = deadLen
	return stats
}
