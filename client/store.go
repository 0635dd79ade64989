package client

import "sort"

// PlayerView 客户端视角的玩家：X/Y 为最近一次权威位置，Display 为平滑后的显示位置
type PlayerView struct {
	ID          string
	Name        string
	Color       string
	X, Y        float64
	DisplayX    float64
	DisplayY    float64
	Message     string
	MessageTime int64 // unix 毫秒
}

// MoveResult ApplyMove 的结果
type MoveResult int

const (
	MoveApplied MoveResult = iota
	MoveSelfEcho
	MoveUnknown
)

// Store 按 id 索引的玩家表，只在客户端事件循环协程中使用，不加锁
type Store struct {
	selfID  string
	players map[string]*PlayerView
}

func NewStore() *Store {
	return &Store{players: make(map[string]*PlayerView)}
}

// Reset 清空所有状态（重连后服务端会分配新身份）
func (s *Store) Reset() {
	s.selfID = ""
	s.players = make(map[string]*PlayerView)
}

// InitSelf 记录本地玩家；显示位置与权威位置相同
func (s *Store) InitSelf(id string, x, y float64, color, name string) {
	s.selfID = id
	s.players[id] = &PlayerView{
		ID: id, Name: name, Color: color,
		X: x, Y: y, DisplayX: x, DisplayY: y,
	}
}

func (s *Store) SelfID() string { return s.selfID }

func (s *Store) isSelf(id string) bool { return s.selfID != "" && id == s.selfID }

// MergeRoster 只添加未知的玩家，已存在的 id 永不覆盖；返回新增数量
func (s *Store) MergeRoster(list []Player) int {
	added := 0
	for _, p := range list {
		if p.ID == "" {
			continue
		}
		if _, ok := s.players[p.ID]; ok {
			continue
		}
		s.players[p.ID] = newView(p)
		added++
	}
	return added
}

// Add 处理 playerJoined；已知 id 刷新记录但保留显示位置
func (s *Store) Add(p Player) bool {
	if p.ID == "" || s.isSelf(p.ID) {
		return false
	}
	if cur, ok := s.players[p.ID]; ok {
		v := newView(p)
		v.DisplayX, v.DisplayY = cur.DisplayX, cur.DisplayY
		s.players[p.ID] = v
		return true
	}
	s.players[p.ID] = newView(p)
	return true
}

// Remove 处理 playerLeft；本地玩家不会被远端事件删除
func (s *Store) Remove(id string) bool {
	if s.isSelf(id) {
		return false
	}
	if _, ok := s.players[id]; !ok {
		return false
	}
	delete(s.players, id)
	return true
}

// ApplyMove 处理 playerMoved：自身回显被丢弃，本地位置只由本地输入驱动
func (s *Store) ApplyMove(id string, x, y float64) MoveResult {
	if s.isSelf(id) {
		return MoveSelfEcho
	}
	p, ok := s.players[id]
	if !ok {
		return MoveUnknown
	}
	p.X, p.Y = x, y
	return MoveApplied
}

// ApplyChat 只给已知玩家附加聊天
func (s *Store) ApplyChat(id, message string, ts int64) bool {
	p, ok := s.players[id]
	if !ok {
		return false
	}
	p.Message = message
	p.MessageTime = ts
	return true
}

// SetSelfPosition 只更新本地玩家，权威与显示位置同时写入
func (s *Store) SetSelfPosition(x, y float64) bool {
	p, ok := s.players[s.selfID]
	if !ok || s.selfID == "" {
		return false
	}
	p.X, p.Y = x, y
	p.DisplayX, p.DisplayY = x, y
	return true
}

func (s *Store) Self() (PlayerView, bool) {
	if s.selfID == "" {
		return PlayerView{}, false
	}
	return s.Get(s.selfID)
}

func (s *Store) Get(id string) (PlayerView, bool) {
	p, ok := s.players[id]
	if !ok {
		return PlayerView{}, false
	}
	return *p, true
}

// Players 按 id 排序的副本
func (s *Store) Players() []PlayerView {
	out := make([]PlayerView, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Len() int { return len(s.players) }

func newView(p Player) *PlayerView {
	return &PlayerView{
		ID: p.ID, Name: p.Name, Color: p.Color,
		X: p.X, Y: p.Y, DisplayX: p.X, DisplayY: p.Y,
		Message: p.Message, MessageTime: p.MessageTime,
	}
}
