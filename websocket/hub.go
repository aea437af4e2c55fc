package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"yourturn-backend/events"
	"yourturn-backend/service"
)

// 推送消息类型
const (
	MessageTallySnapshot = "TALLY_SNAPSHOT"
	MessageTallyUpdate   = "TALLY_UPDATE"
	MessageQuestionGone  = "QUESTION_REMOVED"
)

// Message 定义WebSocket消息格式
type Message struct {
	Type       string      `json:"type"`
	QuestionID string      `json:"question_id"`
	Payload    interface{} `json:"payload,omitempty"`
}

// TallySource 计票查询，*service.ResultsService 满足该接口
type TallySource interface {
	QuestionWithTally(ctx context.Context, questionID string) (*service.QuestionTally, error)
}

// Client 代表一个WebSocket连接客户端
type Client struct {
	// 订阅的问题ID
	QuestionID string

	conn *websocket.Conn
	send chan []byte
}

// Hub 维护活跃的客户端集合并向客户端广播计票更新
type Hub struct {
	results TallySource

	// 按问题ID分组
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub 创建一个新的Hub
func NewHub(results TallySource) *Hub {
	return &Hub{
		results:    results,
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run 启动Hub消息处理循环，ctx取消时关闭全部连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.QuestionID]; !ok {
				h.clients[client.QuestionID] = make(map[*Client]bool)
			}
			h.clients[client.QuestionID][client] = true
			n := len(h.clients[client.QuestionID])
			h.mu.Unlock()
			log.Printf("客户端已订阅问题 %s, 当前连接数: %d", client.QuestionID, n)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for _, clients := range h.clients {
				for client := range clients {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// remove 调用方须持有写锁，重复调用安全
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.QuestionID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.QuestionID)
	}
}

// Consume 消费本地事件，投票成功后推送最新计票，问题移除时通知订阅者
func (h *Hub) Consume(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.QuestionID == "" || h.ClientCount(e.QuestionID) == 0 {
				continue
			}
			switch e.Type {
			case events.VoteCast:
				h.pushTally(ctx, e.QuestionID, MessageTallyUpdate)
			case events.QuestionRemoved:
				h.BroadcastToQuestion(e.QuestionID, &Message{Type: MessageQuestionGone, QuestionID: e.QuestionID})
			}
		}
	}
}

func (h *Hub) pushTally(ctx context.Context, questionID, msgType string) {
	tally, err := h.results.QuestionWithTally(ctx, questionID)
	if err != nil {
		if errors.Is(err, service.ErrQuestionRemoved) || errors.Is(err, service.ErrQuestionNotFound) {
			h.BroadcastToQuestion(questionID, &Message{Type: MessageQuestionGone, QuestionID: questionID})
			return
		}
		log.Printf("查询问题 %s 计票失败: %v", questionID, err)
		return
	}
	h.BroadcastToQuestion(questionID, &Message{Type: msgType, QuestionID: questionID, Payload: tally})
}

// BroadcastToQuestion 向订阅某问题的所有客户端广播消息
func (h *Hub) BroadcastToQuestion(questionID string, message *Message) {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Printf("序列化消息失败: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[questionID] {
		select {
		case client.send <- payload:
		default:
			// 发送缓冲区已满，断开慢客户端
			h.remove(client)
		}
	}
}

// ClientCount 订阅某问题的连接数
func (h *Hub) ClientCount(questionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[questionID])
}

// RegisterClient 注册客户端到Hub，Hub已停止时返回false
func (h *Hub) RegisterClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// UnregisterClient 从Hub中注销客户端
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
