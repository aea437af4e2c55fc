package events

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Sink 事件的外部投递目标（消息队列等）
type Sink interface {
	Name() string
	Publish(ctx context.Context, e Event) error
}

// Dispatcher 异步事件分发器。Emit只做非阻塞入队，
// 后台协程把事件投递给全部Sink和本地订阅者
type Dispatcher struct {
	queue    chan Event
	sinks    []Sink
	timeout  time.Duration
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int

	dropped atomic.Int64
}

// NewDispatcher 创建分发器，buffer为队列长度
func NewDispatcher(buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Dispatcher{
		queue:   make(chan Event, buffer),
		sinks:   sinks,
		timeout: 3 * time.Second,
		quit:    make(chan struct{}),
		subs:    make(map[int]chan Event),
	}
}

// Start 启动后台分发协程
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.loop()
	log.Printf("事件分发器已启动, sinks=%d", len(d.sinks))
}

// Emit 非阻塞发送事件，队列满时丢弃并记录日志
func (d *Dispatcher) Emit(e Event) {
	select {
	case <-d.quit:
		return
	default:
	}

	select {
	case d.queue <- e:
	default:
		d.dropped.Add(1)
		log.Printf("事件队列已满，丢弃事件: type=%s id=%s", e.Type, e.ID)
	}
}

// Dropped 返回因队列满被丢弃的事件数
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Subscribe 订阅本地事件，返回事件通道和取消函数。慢订阅者会丢事件
func (d *Dispatcher) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = ch
	d.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
			close(ch)
		})
	}
}

// Stop 停止分发，已入队的事件会先投递完
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		d.wg.Wait()
		log.Println("事件分发器已停止")
	})
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.queue:
			d.deliver(e)
		case <-d.quit:
			// 投递剩余事件
			for {
				select {
				case e := <-d.queue:
					d.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(e Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := sink.Publish(ctx, e); err != nil {
			log.Printf("投递事件失败: sink=%s type=%s id=%s err=%v", sink.Name(), e.Type, e.ID, err)
		}
		cancel()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, ch := range d.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
