package handlers

import (
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"yourturn-backend/events"
)

// Subscriber 本地事件订阅，*events.Dispatcher 满足该接口
type Subscriber interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

// EventStream 通过SSE推送时段与投票事件
type EventStream struct {
	source    Subscriber
	heartbeat time.Duration
}

// NewEventStream 创建SSE处理器
func NewEventStream(source Subscriber) *EventStream {
	return &EventStream{source: source, heartbeat: 15 * time.Second}
}

// HandleSSE 处理SSE连接请求，可按 ?slot= 或 ?question= 过滤
func (s *EventStream) HandleSSE(c *gin.Context) {
	slotKey := c.Query("slot")
	questionID := c.Query("question")

	ch, cancel := s.source.Subscribe(64)
	defer cancel()

	// 设置SSE所需的HTTP头
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no") // 禁用Nginx缓冲
	c.Status(http.StatusOK)

	log.Printf("已注册SSE客户端，客户端IP: %s", c.ClientIP())
	c.SSEvent("connected", gin.H{"status": "connected"})
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			log.Printf("SSE客户端已断开连接: %s", c.ClientIP())
			return false
		case e, ok := <-ch:
			if !ok {
				return false
			}
			if slotKey != "" && e.SlotKey != slotKey {
				return true
			}
			if questionID != "" && e.QuestionID != questionID {
				return true
			}
			c.SSEvent(string(e.Type), e)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"time": time.Now().Format(time.RFC3339)})
			return true
		}
	})
}
