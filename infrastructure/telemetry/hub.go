package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"yield-engine/infrastructure/logger"
	"yield-engine/internal/store"
	"yield-engine/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeWait = 2 * time.Second

// Frame 推送给订阅者的消息
type Frame struct {
	Type string      `json:"type"` // event / result / state
	Data interface{} `json:"data"`
}

// StateFrame 协议状态的扁平视图
type StateFrame struct {
	Timestamp time.Time          `json:"timestamp"`
	Prices    map[string]float64 `json:"prices"`
	Indices   map[string]float64 `json:"indices,omitempty"`
	Marks     map[string]float64 `json:"marks,omitempty"`
}

// Hub WebSocket 广播中心。广播不阻塞调用方，缓冲满时丢弃。
// 同时实现 store.Backend，可挂在持久化扇出上。
type Hub struct {
	log       *logger.Logger
	broadcast chan []byte
	done      chan struct{}
	closeOnce sync.Once

	lock    sync.Mutex
	clients map[*websocket.Conn]bool
	dropped int
}

var _ store.Backend = (*Hub)(nil)

func NewHub(buffer int, log *logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		log:       log,
		broadcast: make(chan []byte, buffer),
		done:      make(chan struct{}),
		clients:   make(map[*websocket.Conn]bool),
	}
}

// Run 分发循环，直到 ctx 取消或 Close
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case msg := <-h.broadcast:
			h.send(msg)
		}
	}
}

func (h *Hub) send(msg []byte) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for client := range h.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Debug("telemetry client dropped", zap.String("remote", client.RemoteAddr().String()), zap.Error(err))
			client.Close()
			delete(h.clients, client)
		}
	}
}

// Broadcast 非阻塞入队；返回 false 表示已丢弃
func (h *Hub) Broadcast(msg []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.broadcast <- msg:
		return true
	default:
		h.lock.Lock()
		h.dropped++
		h.lock.Unlock()
		return false
	}
}

func (h *Hub) publish(f Frame) error {
	msg, err := json.Marshal(f)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// Handler /ws 升级入口
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("ws upgrade failed", zap.Error(err))
			return
		}
		h.lock.Lock()
		h.clients[conn] = true
		h.lock.Unlock()
	})
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// Dropped 因缓冲满被丢弃的消息数
func (h *Hub) Dropped() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.dropped
}

func (h *Hub) WriteEvent(ev store.Event) error {
	return h.publish(Frame{Type: "event", Data: ev})
}

func (h *Hub) WriteResult(runID string, payload []byte) error {
	return h.publish(Frame{Type: "result", Data: json.RawMessage(payload)})
}

// Follow 转发协议状态流，直到 ctx 取消或通道关闭
func (h *Hub) Follow(ctx context.Context, states <-chan model.ProtocolState) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			if err := h.publish(Frame{Type: "state", Data: flatten(st)}); err != nil {
				h.log.Warn("telemetry state encode failed", zap.Error(err))
			}
		}
	}
}

func flatten(st model.ProtocolState) StateFrame {
	f := StateFrame{
		Timestamp: st.Timestamp,
		Prices:    make(map[string]float64, len(st.Prices)),
		Indices:   make(map[string]float64, len(st.Indices)),
		Marks:     make(map[string]float64, len(st.Marks)),
	}
	for a, p := range st.Prices {
		f.Prices[a] = p
	}
	for k, v := range st.Indices {
		f.Indices[k.String()] = v
	}
	for k, v := range st.Marks {
		f.Marks[k.String()] = v
	}
	return f
}

// Close 停止分发并断开所有连接；可重复调用
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
		h.lock.Lock()
		for client := range h.clients {
			client.Close()
			delete(h.clients, client)
		}
		h.lock.Unlock()
	})
	return nil
}
