package mq

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"yourturn-backend/config"
	"yourturn-backend/events"
)

// MQAdapter 消息队列适配器，按 MQ_DRIVER 选择 Redis / RocketMQ / Kafka
type MQAdapter struct {
	driver   string
	redisMQ  *RedisMQ
	rocketMQ *RocketMQSink
	kafka    *KafkaSink
}

// NewMQAdapter 创建消息队列适配器。
// driver为redis但没有可用的Redis客户端时降级为none
func NewMQAdapter(cfg config.MQConfig, redisClient *redis.Client) (*MQAdapter, error) {
	a := &MQAdapter{driver: cfg.Driver}

	switch cfg.Driver {
	case "redis":
		if redisClient == nil {
			log.Println("Redis不可用，事件不投递到消息队列")
			a.driver = "none"
			return a, nil
		}
		a.redisMQ = NewRedisMQ(redisClient)
		log.Println("成功初始化Redis MQ")
	case "rocketmq":
		sink, err := NewRocketMQSink(cfg.RocketMQAddr)
		if err != nil {
			return nil, err
		}
		a.rocketMQ = sink
	case "kafka":
		producer, err := InitKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			return nil, err
		}
		a.kafka = NewKafkaSink(producer, cfg.KafkaTopic)
		log.Printf("成功初始化Kafka生产者, topic=%s", cfg.KafkaTopic)
	case "none", "":
		a.driver = "none"
	default:
		return nil, fmt.Errorf("不支持的消息队列驱动: %s", cfg.Driver)
	}
	return a, nil
}

// Driver 当前生效的驱动
func (a *MQAdapter) Driver() string {
	return a.driver
}

// Sinks 返回事件分发器使用的投递目标
func (a *MQAdapter) Sinks() []events.Sink {
	switch {
	case a.redisMQ != nil:
		return []events.Sink{a.redisMQ}
	case a.rocketMQ != nil:
		return []events.Sink{a.rocketMQ}
	case a.kafka != nil:
		return []events.Sink{a.kafka}
	}
	return nil
}

// StartConsumer 启动Redis MQ消费者，其他驱动由外部系统消费
func (a *MQAdapter) StartConsumer(handler Handler) error {
	if a.redisMQ == nil {
		return nil
	}
	a.redisMQ.RegisterHandler(handler)
	if err := a.redisMQ.Start(); err != nil {
		return fmt.Errorf("启动Redis MQ消费者失败: %w", err)
	}
	return nil
}

// GetQueueStats 获取队列统计信息
func (a *MQAdapter) GetQueueStats(ctx context.Context) map[string]interface{} {
	stats := map[string]interface{}{"type": a.driver}
	if a.redisMQ != nil {
		stats["queues"] = a.redisMQ.GetQueueStats(ctx)
	}
	return stats
}

// RetryDeadLetters 重试死信队列中的消息（仅Redis MQ模式可用）
func (a *MQAdapter) RetryDeadLetters(ctx context.Context) (int, error) {
	if a.redisMQ == nil {
		return 0, fmt.Errorf("当前消息队列模式不支持死信队列操作")
	}
	return a.redisMQ.RetryDeadLetters(ctx)
}

// Close 关闭消息队列
func (a *MQAdapter) Close() {
	if a.redisMQ != nil {
		a.redisMQ.Stop()
	}
	if a.rocketMQ != nil {
		a.rocketMQ.Close()
	}
	if a.kafka != nil {
		a.kafka.Close()
	}
	log.Println("消息队列已关闭")
}
