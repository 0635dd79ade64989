package server

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
)

// ErrRegistryClosed Run 已退出后再投递事件
var ErrRegistryClosed = errors.New("registry closed")

// RuntimeConfig 可热更新的规则（经事件循环生效）
type RuntimeConfig struct {
	ClampMoves    bool `json:"clampMoves"`
	MaxChatLength int  `json:"maxChatLength"`
}

type eventKind int

const (
	evConnect eventKind = iota
	evMessage
	evDisconnect
	evConfigure
)

// event 事件循环的输入：Connect / Message / Disconnect / Configure
type event struct {
	kind  eventKind
	id    PlayerID
	sink  Sink
	msg   InboundMessage
	cfg   *RuntimeConfig
	reply chan any
}

// session 一个连接在注册表中的状态；joined 之前不对外广播
type session struct {
	player Player
	joined bool
}

// Registry 权威玩家表：只由 Run 所在的单个协程读写
type Registry struct {
	sessions map[PlayerID]*session
	joined   int

	relay  *Relay
	events chan event
	done   chan struct{}

	cfg RuntimeConfig
	rng *rand.Rand
	now func() time.Time

	metrics *RelayMetrics
	log     *zap.SugaredLogger
}

// NewRegistry 创建注册表；需调用 Run 启动事件循环
func NewRegistry(cfg Config, metrics *RelayMetrics, log *zap.SugaredLogger) *Registry {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	maxChat := cfg.MaxChatLength
	if maxChat <= 0 {
		maxChat = MaxChatLength
	}
	return &Registry{
		sessions: make(map[PlayerID]*session),
		relay:    NewRelay(metrics, log),
		events:   make(chan event, 256), // 足够缓冲，避免网络读阻塞
		done:     make(chan struct{}),
		cfg: RuntimeConfig{
			ClampMoves:    cfg.ClampMoves,
			MaxChatLength: maxChat,
		},
		rng:     rand.New(rand.NewSource(seed)),
		now:     time.Now,
		metrics: metrics,
		log:     log,
	}
}

// Connect 注册新连接并返回分配的 ID；init 与玩家快照只发给该连接
func (r *Registry) Connect(ctx context.Context, sink Sink) (PlayerID, error) {
	reply := make(chan any, 1)
	if err := r.post(ctx, event{kind: evConnect, sink: sink, reply: reply}); err != nil {
		return "", err
	}
	select {
	case v := <-reply:
		return v.(PlayerID), nil
	case <-r.done:
		return "", ErrRegistryClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Deliver 投递一条已解析的入站消息
func (r *Registry) Deliver(id PlayerID, msg InboundMessage) {
	_ = r.post(context.Background(), event{kind: evMessage, id: id, msg: msg})
}

// Disconnect 连接断开；必须是该连接的最后一个事件
func (r *Registry) Disconnect(id PlayerID) {
	_ = r.post(context.Background(), event{kind: evDisconnect, id: id})
}

// Configure 更新规则；cfg 为 nil 时只读取当前值
func (r *Registry) Configure(ctx context.Context, cfg *RuntimeConfig) (RuntimeConfig, error) {
	reply := make(chan any, 1)
	if err := r.post(ctx, event{kind: evConfigure, cfg: cfg, reply: reply}); err != nil {
		return RuntimeConfig{}, err
	}
	select {
	case v := <-reply:
		return v.(RuntimeConfig), nil
	case <-r.done:
		return RuntimeConfig{}, ErrRegistryClosed
	case <-ctx.Done():
		return RuntimeConfig{}, ctx.Err()
	}
}

// Count 已 join 的玩家数，可在任意协程读取
func (r *Registry) Count() int { return r.metrics.Players() }

func (r *Registry) post(ctx context.Context, ev event) error {
	select {
	case r.events <- ev:
		return nil
	case <-r.done:
		return ErrRegistryClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) dispatch(ev event) {
	switch ev.kind {
	case evConnect:
		ev.reply <- r.onConnect(ev.sink)
	case evMessage:
		r.handle(ev.id, ev.msg)
	case evDisconnect:
		r.onDisconnect(ev.id)
	case evConfigure:
		if ev.cfg != nil {
			r.applyConfig(*ev.cfg)
		}
		ev.reply <- r.cfg
	}
}

// handle 按消息类型分发；未知类型静默忽略
func (r *Registry) handle(id PlayerID, msg InboundMessage) {
	switch msg.Type {
	case TypeJoin:
		r.onJoin(id, msg.Name)
	case TypeMove:
		if msg.X == nil || msg.Y == nil {
			return
		}
		r.onMove(id, *msg.X, *msg.Y)
	case TypeChat:
		r.onChat(id, msg.Message)
	case TypePing:
		r.onPing(id)
	}
}

func (r *Registry) onConnect(sink Sink) PlayerID {
	id := newPlayerID()
	for r.sessions[id] != nil {
		id = newPlayerID()
	}
	const half = PlayerSize / 2
	p := Player{
		ID:    id,
		X:     half + r.rng.Float64()*(FieldWidth-PlayerSize),
		Y:     half + r.rng.Float64()*(FieldHeight-PlayerSize),
		Color: Palette[r.rng.Intn(len(Palette))],
	}
	r.sessions[id] = &session{player: p}
	r.relay.Add(id, sink)
	r.metrics.IncConnections()

	r.relay.SendTo(id, InitMessage{Type: TypeInit, ID: id, Color: p.Color, X: p.X, Y: p.Y})
	r.relay.SendTo(id, RosterMessage{Type: TypePlayers, Players: r.roster()})
	r.log.Infow("player connected", "player", id, "sessions", len(r.sessions))
	return id
}

func (r *Registry) onJoin(id PlayerID, name string) {
	s, ok := r.sessions[id]
	if !ok {
		r.metrics.IncIgnored()
		return
	}
	if s.joined {
		r.log.Debugw("duplicate join ignored", "player", id)
		return
	}
	s.player.Name = sanitizeName(name)
	s.joined = true
	r.setJoined(r.joined + 1)
	r.metrics.IncJoins()

	r.relay.Broadcast(JoinedMessage{Type: TypePlayerJoined, Player: s.player}, id)
	r.log.Infow("player joined", "player", id, "name", s.player.Name, "total", r.joined)
}

func (r *Registry) onMove(id PlayerID, x, y float64) {
	s, ok := r.sessions[id]
	if !ok || !s.joined {
		r.metrics.IncIgnored()
		return
	}
	if !finite(x) || !finite(y) {
		r.metrics.IncIgnored()
		r.log.Debugw("non-finite move dropped", "player", id)
		return
	}
	if r.cfg.ClampMoves {
		x, y = clampToField(x, y)
	}
	s.player.X, s.player.Y = x, y
	r.metrics.IncMoves()

	// 发送者也会收到，由客户端按 id 丢弃自身回显
	r.relay.Broadcast(MovedMessage{Type: TypePlayerMoved, ID: id, X: x, Y: y}, "")
}

func (r *Registry) onChat(id PlayerID, text string) {
	s, ok := r.sessions[id]
	if !ok || !s.joined {
		r.metrics.IncIgnored()
		return
	}
	text = truncateRunes(strings.TrimSpace(text), r.cfg.MaxChatLength)
	if text == "" {
		return
	}
	ts := r.now().UnixMilli()
	s.player.Message = text
	s.player.MessageTime = ts
	r.metrics.IncChats()

	r.relay.Broadcast(ChatMessage{Type: TypeChat, ID: id, Message: text, Timestamp: ts}, "")
	r.log.Infow("chat", "player", id, "name", s.player.Name, "message", text)
}

func (r *Registry) onPing(id PlayerID) {
	r.relay.SendTo(id, PongMessage{Type: TypePong})
}

func (r *Registry) onDisconnect(id PlayerID) {
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	r.relay.Remove(id)
	if !s.joined {
		r.log.Infow("connection closed before join", "player", id)
		return
	}
	r.setJoined(r.joined - 1)
	r.relay.Broadcast(LeftMessage{Type: TypePlayerLeft, ID: id}, "")
	r.log.Infow("player left", "player", id, "name", s.player.Name, "total", r.joined)
}

func (r *Registry) applyConfig(c RuntimeConfig) {
	if c.MaxChatLength <= 0 {
		c.MaxChatLength = MaxChatLength
	}
	r.cfg = c
	r.log.Infow("config updated", "clampMoves", c.ClampMoves, "maxChatLength", c.MaxChatLength)
}

// roster 当前已 join 的玩家快照
func (r *Registry) roster() []Player {
	out := make([]Player, 0, r.joined)
	for _, s := range r.sessions {
		if s.joined {
			out = append(out, s.player)
		}
	}
	return out
}

func (r *Registry) setJoined(n int) {
	r.joined = n
	r.metrics.SetPlayers(n)
}

func sanitizeName(name string) string {
	name = truncateRunes(strings.TrimSpace(name), MaxNameLength)
	if name == "" {
		return DefaultName
	}
	return name
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
