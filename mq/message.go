package mq

import (
	"encoding/json"
	"fmt"
	"time"

	"yourturn-backend/events"
)

// EventMessage 队列中的事件消息
type EventMessage struct {
	Event     events.Event `json:"event"`
	Timestamp int64        `json:"timestamp"`
	MessageID string       `json:"message_id"` // 用于幂等性处理，与事件ID一致
}

func newEventMessage(e events.Event) EventMessage {
	return EventMessage{Event: e, Timestamp: time.Now().Unix(), MessageID: e.ID}
}

func encodeEvent(e events.Event) ([]byte, error) {
	body, err := json.Marshal(newEventMessage(e))
	if err != nil {
		return nil, fmt.Errorf("序列化消息失败: %w", err)
	}
	return body, nil
}

// shardingKey 同一时段的事件进入同一分区，保证顺序
func shardingKey(e events.Event) string {
	if e.SlotKey != "" {
		return e.SlotKey
	}
	return e.QuestionID
}
