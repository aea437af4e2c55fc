package mq

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"

	"yourturn-backend/events"
)

// 主题常量
const (
	TopicSlotEvents = "yourturn_events"
)

// RocketMQSink 将事件以同步方式发送到RocketMQ
type RocketMQSink struct {
	producer rocketmq.Producer
	topic    string
}

// NewRocketMQSink 创建并启动RocketMQ生产者
func NewRocketMQSink(nameServerAddr string) (*RocketMQSink, error) {
	log.Printf("初始化RocketMQ连接, 地址: %s", nameServerAddr)

	p, err := rocketmq.NewProducer(
		producer.WithNameServer([]string{nameServerAddr}),
		producer.WithGroupName("yourturn_producer"),
		producer.WithRetry(2),
		producer.WithSendMsgTimeout(3*time.Second),
		producer.WithVIPChannel(false),
	)
	if err != nil {
		return nil, fmt.Errorf("创建RocketMQ生产者失败: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("启动RocketMQ生产者失败: %w", err)
	}

	log.Println("RocketMQ生产者初始化成功")
	return newRocketMQSink(p, TopicSlotEvents), nil
}

func newRocketMQSink(p rocketmq.Producer, topic string) *RocketMQSink {
	return &RocketMQSink{producer: p, topic: topic}
}

// Name 实现 events.Sink
func (s *RocketMQSink) Name() string {
	return "rocketmq"
}

// Publish 发送事件，标签为事件类型，同一时段的事件使用相同分区键
func (s *RocketMQSink) Publish(ctx context.Context, e events.Event) error {
	body, err := encodeEvent(e)
	if err != nil {
		return err
	}

	message := primitive.NewMessage(s.topic, body)
	message.WithTag(string(e.Type))
	message.WithKeys([]string{e.ID})
	message.WithShardingKey(shardingKey(e))

	res, err := s.producer.SendSync(ctx, message)
	if err != nil {
		return fmt.Errorf("发送消息失败: %w", err)
	}
	if res.Status != primitive.SendOK {
		return fmt.Errorf("发送消息失败: status=%d", res.Status)
	}
	return nil
}

// Close 关闭生产者
func (s *RocketMQSink) Close() {
	if err := s.producer.Shutdown(); err != nil {
		log.Printf("关闭RocketMQ生产者失败: %v", err)
		return
	}
	log.Println("RocketMQ生产者已关闭")
}
