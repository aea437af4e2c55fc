package mq

import (
	"context"
	"fmt"
	"log"

	"github.com/IBM/sarama"

	"yourturn-backend/events"
)

// InitKafkaProducer 创建同步Kafka生产者
func InitKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner // 同一分区键进入同一分区
	config.Version = sarama.V2_0_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}
	return producer, nil
}

// KafkaSink 将事件发送到Kafka主题
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink 使用已有生产者创建Kafka投递目标
func NewKafkaSink(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

// Name 实现 events.Sink
func (s *KafkaSink) Name() string {
	return "kafka"
}

// Publish 发送事件，事件类型写入消息头
func (s *KafkaSink) Publish(_ context.Context, e events.Event) error {
	body, err := encodeEvent(e)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(shardingKey(e)),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(e.Type)},
		},
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("发送Kafka消息失败: %w", err)
	}
	return nil
}

// Close 关闭生产者
func (s *KafkaSink) Close() {
	if err := s.producer.Close(); err != nil {
		log.Printf("关闭Kafka生产者失败: %v", err)
		return
	}
	log.Println("Kafka生产者已关闭")
}
