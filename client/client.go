package client

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	DefaultName   = "Player"
	MaxChatLength = 100
)

// ErrStopped Run 已退出
var ErrStopped = errors.New("client stopped")

// Options 客户端参数；零值字段使用默认值
type Options struct {
	URL           string
	Name          string
	FrameInterval time.Duration // 渲染与本地预测节拍
	SendInterval  time.Duration // 位置上报节拍，低于帧率
	Conn          ConnOptions
	Tuning        Tuning
	Renderer      Renderer
	Log           *zap.SugaredLogger
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Name) == "" {
		o.Name = DefaultName
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = time.Second / 60
	}
	if o.SendInterval <= 0 {
		o.SendInterval = 50 * time.Millisecond
	}
	if o.Tuning == (Tuning{}) {
		o.Tuning = DefaultTuning()
	}
	if o.Log == nil {
		o.Log = zap.NewNop().Sugar()
	}
	if o.Conn.Log == nil {
		o.Conn.Log = o.Log
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Client 单协程协作式运行：帧节拍、网络节拍、入站事件与输入在同一个 select 中顺序处理
type Client struct {
	opts   Options
	log    *zap.SugaredLogger
	store  *Store
	engine *Engine
	conn   *ConnManager

	inputs  chan func()
	stopped chan struct{}

	session  bool   // 已收到 init 并发送 join
	resume   *Point // 断线前的本地位置，重连后恢复
	lastPong time.Time
	echoes   int
}

func New(opts Options) *Client {
	opts = opts.withDefaults()
	store := NewStore()
	return &Client{
		opts:    opts,
		log:     opts.Log,
		store:   store,
		engine:  NewEngine(store, opts.Tuning),
		inputs:  make(chan func(), 64),
		stopped: make(chan struct{}),
	}
}

// Run 建立连接并运行事件循环，直到 ctx 取消
func (c *Client) Run(ctx context.Context) error {
	defer close(c.stopped)
	c.conn = NewConnManager(c.opts.URL, c.opts.Conn)
	defer c.conn.Close()

	frame := time.NewTicker(c.opts.FrameInterval)
	defer frame.Stop()
	send := time.NewTicker(c.opts.SendInterval)
	defer send.Stop()
	last := c.opts.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-c.conn.Events():
			if !ok {
				return nil
			}
			c.handleEvent(ev)
		case fn := <-c.inputs:
			fn()
		case <-frame.C:
			now := c.opts.Now()
			c.engine.Step(now.Sub(last))
			last = now
			if c.opts.Renderer != nil {
				c.opts.Renderer.Render(c.engine.Frame(now))
			}
		case <-send.C:
			c.flushMove()
		}
	}
}

// MoveTo 设置点击目标
func (c *Client) MoveTo(x, y float64) {
	c.post(func() { c.engine.SetTarget(x, y) })
}

// Steer 设置方向键状态
func (c *Client) Steer(dx, dy float64) {
	c.post(func() { c.engine.SetDirection(dx, dy) })
}

// Chat 发送聊天；未连接或未加入时静默丢弃
func (c *Client) Chat(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if utf8.RuneCountInString(text) > MaxChatLength {
		text = string([]rune(text)[:MaxChatLength])
	}
	c.post(func() {
		if !c.session {
			return
		}
		c.conn.Send(chatMessage{Type: TypeChat, Message: text})
	})
}

// Stats 运行状态，供监控与测试读取
type Stats struct {
	State    State
	Session  bool
	SelfID   string
	Players  int
	Echoes   int // 被丢弃的自身回显次数
	LastPong time.Time
}

// Snapshot 在事件循环中生成当前帧
func (c *Client) Snapshot(ctx context.Context) (Frame, error) {
	var f Frame
	err := c.do(ctx, func() { f = c.engine.Frame(c.opts.Now()) })
	return f, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := c.do(ctx, func() {
		st = Stats{
			State:    c.conn.State(),
			Session:  c.session,
			SelfID:   c.store.SelfID(),
			Players:  c.store.Len(),
			Echoes:   c.echoes,
			LastPong: c.lastPong,
		}
	})
	return st, err
}

// do 在事件循环中执行 fn 并等待其完成
func (c *Client) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !c.postCtx(ctx, func() { fn(); close(done) }) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) post(fn func()) { c.postCtx(context.Background(), fn) }

func (c *Client) postCtx(ctx context.Context, fn func()) bool {
	select {
	case c.inputs <- fn:
		return true
	case <-c.stopped:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Client) handleEvent(ev Event) {
	switch ev.Kind {
	case EventConnected:
		c.log.Debugw("transport connected")
	case EventDisconnected:
		if self, ok := c.store.Self(); ok && c.session {
			c.resume = &Point{X: self.X, Y: self.Y}
		}
		c.session = false
		c.engine.ClearTarget()
	case EventMessage:
		c.handleMessage(ev.Msg)
	}
}

func (c *Client) handleMessage(msg ServerMessage) {
	switch msg.Type {
	case TypeInit:
		c.startSession(msg)
	case TypePlayers:
		n := c.store.MergeRoster(msg.Players)
		c.log.Debugw("roster merged", "added", n, "total", c.store.Len())
	case TypePlayerJoined:
		if c.store.Add(*msg.Player) {
			c.log.Infow("player joined", "player", msg.Player.ID, "name", msg.Player.Name)
		}
	case TypePlayerMoved:
		if c.store.ApplyMove(msg.ID, msg.X, msg.Y) == MoveSelfEcho {
			c.echoes++
		}
	case TypeChat:
		c.store.ApplyChat(msg.ID, msg.Message, msg.Timestamp)
	case TypePlayerLeft:
		if c.store.Remove(msg.ID) {
			c.log.Infow("player left", "player", msg.ID)
		}
	case TypePong:
		c.lastPong = c.opts.Now()
	}
}

// startSession 每次连接都会收到新的 init：重置本地状态、重新 join，并恢复断线前的位置
func (c *Client) startSession(msg ServerMessage) {
	c.store.Reset()
	c.store.InitSelf(msg.ID, msg.X, msg.Y, msg.Color, c.opts.Name)
	c.engine.Reset(Point{X: msg.X, Y: msg.Y})
	if !c.conn.Send(joinMessage{Type: TypeJoin, Name: c.opts.Name}) {
		c.log.Warnw("join not sent", "player", msg.ID)
		return
	}
	c.session = true
	if c.resume != nil {
		x, y := c.engine.clamp(c.resume.X, c.resume.Y)
		c.store.SetSelfPosition(x, y)
		c.resume = nil
	}
	c.log.Infow("session started", "player", msg.ID, "name", c.opts.Name, "color", msg.Color)
}

// flushMove 网络节拍：本地位置变化时才上报
func (c *Client) flushMove() {
	if !c.session {
		return
	}
	p, ok := c.engine.PendingMove()
	if !ok {
		return
	}
	if c.conn.Send(moveMessage{Type: TypeMove, X: p.X, Y: p.Y}) {
		c.engine.MarkSent(p)
	}
}
