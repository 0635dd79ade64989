package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 5 * time.Second
	readWait       = 60 * time.Second // 客户端每 25s 发一次 ping，足以续期
	maxMessageSize = 4 << 10
	sendBuffer     = 64
)

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClientConn(ws *websocket.Conn, buffer int) *ClientConn {
	if buffer <= 0 {
		buffer = sendBuffer
	}
	return &ClientConn{
		ws:   ws,
		send: make(chan []byte, buffer),
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (c *ClientConn) Enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		// 为了实时性直接丢弃，慢客户端不影响其他人
		return false
	}
}

// Close 关闭发送队列；写协程写完已排队的消息后关闭连接
func (c *ClientConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump 独立协程，负责从 send 队列写出到 WS
func (c *ClientConn) writePump() {
	defer c.ws.Close()
	broken := false
	for msg := range c.send {
		// 连接已坏时只 drain，直到注册表关闭队列
		if broken {
			continue
		}
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			broken = true
			_ = c.ws.Close()
		}
	}
	if broken {
		return
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump 读取客户端消息，解析后投递给注册表
func (c *ClientConn) readPump(reg *Registry, id PlayerID, metrics *RelayMetrics, log *zap.SugaredLogger) {
	defer c.ws.Close()
	// 读泵退出时，通知注册表在事件循环中移除该玩家（该连接的最后一个事件）
	defer reg.Disconnect(id)
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(readWait))

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warnw("read error", "player", id, "err", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(readWait))
		msg, err := DecodeInbound(payload)
		if err != nil {
			metrics.IncMalformed()
			log.Warnw("malformed message dropped", "player", id, "err", err)
			continue
		}
		reg.Deliver(id, msg)
	}
}

// Server 持有注册表与所有连接的写协程，供 HTTP 路由使用
type Server struct {
	reg      *Registry
	metrics  *RelayMetrics
	log      *zap.SugaredLogger
	buffer   int
	started  time.Time
	upgrader websocket.Upgrader
	writers  sync.WaitGroup
}

func NewServer(reg *Registry, metrics *RelayMetrics, cfg Config, log *zap.SugaredLogger) *Server {
	return &Server{
		reg:     reg,
		metrics: metrics,
		log:     log,
		buffer:  cfg.SendBuffer,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// 浏览器前端与中继分开部署，允许所有来源
				return true
			},
		},
	}
}

// HandleWS WebSocket 接入：每个连接分配新 ID，先收到 init 再收到 players
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("upgrade error", "err", err)
		return
	}

	client := NewClientConn(ws, s.buffer)
	s.writers.Add(1)
	go func() {
		defer s.writers.Done()
		client.writePump()
	}()

	id, err := s.reg.Connect(r.Context(), client)
	if err != nil {
		s.log.Warnw("connect rejected", "err", err)
		client.Close()
		return
	}
	go client.readPump(s.reg, id, s.metrics, s.log)
}

// Wait 等待所有写协程把已排队的消息写完（优雅退出）
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.writers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
