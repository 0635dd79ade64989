package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State 连接状态机：Disconnected → Connecting → Connected → Disconnected（重试）
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMessage
)

// Event 按到达顺序交给唯一的消费者
type Event struct {
	Kind EventKind
	Msg  ServerMessage
}

const (
	writeWait  = 5 * time.Second
	sendQueue  = 64
	eventQueue = 256
)

// ConnOptions 连接参数；零值字段使用默认值
type ConnOptions struct {
	KeepaliveInterval time.Duration
	ReconnectDelay    time.Duration
	Dialer            *websocket.Dialer
	Log               *zap.SugaredLogger
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = 25 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Log == nil {
		o.Log = zap.NewNop().Sugar()
	}
	return o
}

// ConnManager 持有到中继的 WebSocket 连接，负责保活与断线重连
type ConnManager struct {
	url  string
	opts ConnOptions
	log  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	out      chan []byte
	retry    *time.Timer
	pending  bool // 已安排（或即将安排）一次重连
	closed   bool
	attempts int
}

// NewConnManager 创建后立即发起第一次连接
func NewConnManager(url string, opts ConnOptions) *ConnManager {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &ConnManager{
		url:    url,
		opts:   opts,
		log:    opts.Log,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, eventQueue),
	}
	m.Connect()
	return m
}

// Connect 发起一次连接；已在连接中、已连接或已安排重连时不做任何事
func (m *ConnManager) Connect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.pending || m.state != Disconnected {
		return false
	}
	m.state = Connecting
	m.attempts++
	m.wg.Add(1)
	go m.run()
	return true
}

// Events 入站事件；Close 之后会被关闭
func (m *ConnManager) Events() <-chan Event { return m.events }

func (m *ConnManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts 累计发起的连接次数
func (m *ConnManager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Send 仅在已连接时入队；否则静默丢弃并返回 false，不做排队
func (m *ConnManager) Send(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		m.log.Errorw("marshal outbound", "err", err)
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected || m.out == nil {
		return false
	}
	select {
	case m.out <- b:
		return true
	default:
		return false
	}
}

// Close 取消待执行的重连，关闭连接并等待所有协程退出
func (m *ConnManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	conn := m.conn
	m.mu.Unlock()

	m.cancel()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = conn.Close()
	}
	m.wg.Wait()
	close(m.events)
}

func (m *ConnManager) run() {
	defer m.wg.Done()

	conn, _, err := m.opts.Dialer.DialContext(m.ctx, m.url, nil)
	if err != nil {
		m.log.Warnw("dial failed", "url", m.url, "err", err)
		m.lost(false)
		return
	}

	out := make(chan []byte, sendQueue)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.out = out
	m.state = Connected
	m.mu.Unlock()

	m.log.Infow("connected", "url", m.url)
	m.emit(Event{Kind: EventConnected})

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		m.writePump(conn, out, stop)
	}()
	m.readPump(conn)
	close(stop)
	<-writerDone
	_ = conn.Close()
	m.lost(true)
}

// lost 连接断开或拨号失败：切到 Disconnected 并只安排一次重连
func (m *ConnManager) lost(wasConnected bool) {
	m.mu.Lock()
	m.conn = nil
	m.out = nil
	m.state = Disconnected
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.pending = true
	m.mu.Unlock()

	if wasConnected {
		m.log.Infow("disconnected", "url", m.url, "retryIn", m.opts.ReconnectDelay)
		m.emit(Event{Kind: EventDisconnected})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.pending = false
		return
	}
	m.retry = time.AfterFunc(m.opts.ReconnectDelay, func() {
		m.mu.Lock()
		m.retry = nil
		m.pending = false
		m.mu.Unlock()
		m.log.Infow("reconnecting", "url", m.url)
		m.Connect()
	})
}

func (m *ConnManager) readPump(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if m.ctx.Err() == nil {
				m.log.Infow("read failed", "err", err)
			}
			return
		}
		msg, err := DecodeServerMessage(payload)
		if err != nil {
			m.log.Warnw("malformed message dropped", "err", err)
			continue
		}
		if !m.emit(Event{Kind: EventMessage, Msg: msg}) {
			return
		}
	}
}

// writePump 写出队列中的消息，并在连接期间定时发送 ping
func (m *ConnManager) writePump(conn *websocket.Conn, out <-chan []byte, stop <-chan struct{}) {
	ticker := time.NewTicker(m.opts.KeepaliveInterval)
	defer ticker.Stop()
	ping, _ := json.Marshal(pingMessage{Type: TypePing})

	write := func(b []byte) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			m.log.Infow("write failed", "err", err)
			// 关闭连接以唤醒读协程
			_ = conn.Close()
			return false
		}
		return true
	}

	for {
		select {
		case <-stop:
			return
		case b := <-out:
			if !write(b) {
				return
			}
		case <-ticker.C:
			if !write(ping) {
				return
			}
		}
	}
}

func (m *ConnManager) emit(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.ctx.Done():
		return false
	}
}
