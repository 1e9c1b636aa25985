package telemetry

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

/*
Hub 进程内事件广播
功能：把规则事件扇出给所有订阅者（事件推送 WebSocket）。
订阅者缓冲满时该订阅者丢弃事件，不影响其他订阅者
*/
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	closed  bool
	dropped atomic.Int64
}

/*
NewHub 创建事件广播
*/
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan Event)}
}

/*
Subscribe 订阅事件
返回：事件通道和取消函数；取消或 Hub 关闭后通道被关闭
*/
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

/* Subscribers 当前订阅者数量 */
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

/* Dropped 因订阅者缓冲满被丢弃的事件数 */
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) Emit(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Inc()
		}
	}
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	return nil
}

/*
multiSink 组合多个接收端
*/
type multiSink []Sink

/*
Multi 把事件依次交给每个接收端，nil 接收端被忽略
*/
func Multi(sinks ...Sink) Sink {
	var out multiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

func (m multiSink) Close() error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Close())
	}
	return err
}
