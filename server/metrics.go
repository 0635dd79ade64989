package server

import (
	"sync/atomic"
)

// RelayMetrics 记录中继运行期的关键指标（用于监控与调试）
type RelayMetrics struct {
	Connections     int64 // 累计建立的连接数
	Joins           int64 // 完成 join 握手的次数
	Moves           int64 // 被接受的移动
	Chats           int64 // 被接受的聊天
	Ignored         int64 // 未 join 或未知 id 的消息（按 no-op 处理）
	Malformed       int64 // 格式错误被丢弃的入站消息
	Broadcasts      int64 // 序列化一次的事件数
	SendsDropped    int64 // 因队列满或已关闭被丢弃的出站消息
	PlayersSnapshot int64 // 当前已 join 的玩家数
}

func (m *RelayMetrics) IncConnections() { atomic.AddInt64(&m.Connections, 1) }
func (m *RelayMetrics) IncJoins() { atomic.AddInt64(&m.Joins, 1) }
func (m *RelayMetrics) IncMoves() { atomic.AddInt64(&m.Moves, 1) }
func (m *RelayMetrics) IncChats() { atomic.AddInt64(&m.Chats, 1) }
func (m *RelayMetrics) IncIgnored() { atomic.AddInt64(&m.Ignored, 1) }
func (m *RelayMetrics) IncMalformed() { atomic.AddInt64(&m.Malformed, 1) }
func (m *RelayMetrics) IncBroadcasts() { atomic.AddInt64(&m.Broadcasts, 1) }
func (m *RelayMetrics) IncSendsDropped() { atomic.AddInt64(&m.SendsDropped, 1) }
func (m *RelayMetrics) SetPlayers(n int) { atomic.StoreInt64(&m.PlayersSnapshot, int64(n)) }
func (m *RelayMetrics) Players() int { return int(atomic.LoadInt64(&m.PlayersSnapshot)) }

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RelayMetrics) Snapshot() map[string]any {
	return map[string]any{
		"connections":   atomic.LoadInt64(&m.Connections),
		"joins":         atomic.LoadInt64(&m.Joins),
		"moves":         atomic.LoadInt64(&m.Moves),
		"chats":         atomic.LoadInt64(&m.Chats),
		"ignored":       atomic.LoadInt64(&m.Ignored),
		"malformed":     atomic.LoadInt64(&m.Malformed),
		"broadcasts":    atomic.LoadInt64(&m.Broadcasts),
		"sends_dropped": atomic.LoadInt64(&m.SendsDropped),
		"players":       atomic.LoadInt64(&m.PlayersSnapshot),
	}
}
