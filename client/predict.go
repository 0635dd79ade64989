package client

import (
	"math"
	"time"
)

type Point struct {
	X, Y float64
}

// Tuning 预测与平滑参数，默认值与浏览器前端一致
type Tuning struct {
	FieldWidth   float64
	FieldHeight  float64
	PlayerSize   float64
	TargetGain   float64       // 每帧移动剩余距离的比例
	MaxStep      float64       // 每个参考帧的最大位移（像素）
	ArriveRadius float64       // 小于该距离视为到达
	KeySpeed     float64       // 方向键速度（像素/秒）
	Smoothing    float64       // 远端玩家每帧逼近的比例 f，0 < f <= 1
	ChatDuration time.Duration // 聊天气泡显示时长
	FrameRate    float64       // 参考帧率，用于把 TargetGain/MaxStep 换算到任意 dt
}

func DefaultTuning() Tuning {
	return Tuning{
		FieldWidth:   800,
		FieldHeight:  600,
		PlayerSize:   40,
		TargetGain:   0.2,
		MaxStep:      8,
		ArriveRadius: 3,
		KeySpeed:     200,
		Smoothing:    0.3,
		ChatDuration: 3 * time.Second,
		FrameRate:    60,
	}
}

// Engine 本地玩家的客户端预测 + 远端玩家的指数平滑
type Engine struct {
	store *Store
	tune  Tuning

	target   *Point
	dir      Point
	lastSent *Point
}

func NewEngine(store *Store, tune Tuning) *Engine {
	return &Engine{store: store, tune: tune}
}

// SetTarget 点击移动：记录目标点，逐帧逼近
func (e *Engine) SetTarget(x, y float64) {
	e.target = &Point{X: x, Y: y}
}

func (e *Engine) ClearTarget() { e.target = nil }

func (e *Engine) Target() (Point, bool) {
	if e.target == nil {
		return Point{}, false
	}
	return *e.target, true
}

// SetDirection 方向键状态，各分量取 -1..1；非零时优先于目标点
func (e *Engine) SetDirection(dx, dy float64) {
	e.dir = Point{X: dx, Y: dy}
	if dx != 0 || dy != 0 {
		e.target = nil
	}
}

// Reset 新会话开始：清除意图，并把 sent 基准设为服务端给出的出生点
func (e *Engine) Reset(spawn Point) {
	e.target = nil
	e.dir = Point{}
	e.lastSent = &spawn
}

// Step 推进一帧：先移动本地玩家（立即生效，不等服务端），再平滑远端玩家
func (e *Engine) Step(dt time.Duration) bool {
	moved := e.stepSelf(dt)
	e.smoothRemotes()
	return moved
}

func (e *Engine) stepSelf(dt time.Duration) bool {
	self, ok := e.store.Self()
	if !ok {
		return false
	}
	var nx, ny float64
	switch {
	case e.dir.X != 0 || e.dir.Y != 0:
		n := math.Hypot(e.dir.X, e.dir.Y)
		step := e.tune.KeySpeed * dt.Seconds()
		nx = self.X + e.dir.X/n*step
		ny = self.Y + e.dir.Y/n*step
	case e.target != nil:
		dx, dy := e.target.X-self.X, e.target.Y-self.Y
		dist := math.Hypot(dx, dy)
		if dist < e.tune.ArriveRadius {
			e.target = nil
			return false
		}
		frames := dt.Seconds() * e.tune.FrameRate
		speed := math.Min(dist*e.tune.TargetGain, e.tune.MaxStep) * frames
		speed = math.Min(speed, dist)
		nx = self.X + dx/dist*speed
		ny = self.Y + dy/dist*speed
	default:
		return false
	}
	nx, ny = e.clamp(nx, ny)
	if nx == self.X && ny == self.Y {
		return false
	}
	return e.store.SetSelfPosition(nx, ny)
}

// smoothRemotes display += (auth - display) * f，不越过目标
func (e *Engine) smoothRemotes() {
	f := e.tune.Smoothing
	if f <= 0 || f > 1 {
		f = 1
	}
	for id, p := range e.store.players {
		if id == e.store.selfID {
			continue
		}
		p.DisplayX += (p.X - p.DisplayX) * f
		p.DisplayY += (p.Y - p.DisplayY) * f
	}
}

func (e *Engine) clamp(x, y float64) (float64, float64) {
	half := e.tune.PlayerSize / 2
	return math.Max(half, math.Min(e.tune.FieldWidth-half, x)),
		math.Max(half, math.Min(e.tune.FieldHeight-half, y))
}

// PendingMove 本地位置自上次发送后是否变化；由网络节拍调用
func (e *Engine) PendingMove() (Point, bool) {
	self, ok := e.store.Self()
	if !ok {
		return Point{}, false
	}
	p := Point{X: self.X, Y: self.Y}
	if e.lastSent != nil && *e.lastSent == p {
		return p, false
	}
	return p, true
}

func (e *Engine) MarkSent(p Point) { e.lastSent = &p }

// ChatVisible 聊天气泡是否仍在显示期内（渲染时读取，无定时器）
func ChatVisible(p PlayerView, now time.Time, d time.Duration) bool {
	if p.Message == "" {
		return false
	}
	return now.UnixMilli()-p.MessageTime < d.Milliseconds()
}

// DrawnPlayer 渲染一个玩家所需的全部数据
type DrawnPlayer struct {
	ID    string
	Name  string
	Color string
	X, Y  float64
	Self  bool
	Chat  string // 过期后为空
}

// Frame 交给渲染协作者的一帧数据
type Frame struct {
	Now     time.Time
	SelfID  string
	Players []DrawnPlayer
	Target  *Point
}

// Renderer 渲染协作者；核心只产出 Frame，不依赖任何绘制代码
type Renderer interface {
	Render(Frame)
}

func (e *Engine) Frame(now time.Time) Frame {
	f := Frame{Now: now, SelfID: e.store.SelfID()}
	if t, ok := e.Target(); ok {
		f.Target = &t
	}
	for _, p := range e.store.Players() {
		d := DrawnPlayer{
			ID: p.ID, Name: p.Name, Color: p.Color,
			X: p.DisplayX, Y: p.DisplayY,
			Self: p.ID == f.SelfID,
		}
		if ChatVisible(p, now, e.tune.ChatDuration) {
			d.Chat = p.Message
		}
		f.Players = append(f.Players, d)
	}
	return f
}
