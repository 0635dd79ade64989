package server

import (
	"encoding/json"

	"go.uber.org/zap"
)

// Sink 出站消息的接收端（ClientConn 实现；测试中可替换）
type Sink interface {
	// Enqueue 非阻塞入队，队列满或已关闭时返回 false
	Enqueue(b []byte) bool
	Close()
}

// Relay 将事件扇出到所有在线连接：每个事件只序列化一次，尽力投递
type Relay struct {
	sinks   map[PlayerID]Sink
	metrics *RelayMetrics
	log     *zap.SugaredLogger
}

func NewRelay(metrics *RelayMetrics, log *zap.SugaredLogger) *Relay {
	return &Relay{
		sinks:   make(map[PlayerID]Sink),
		metrics: metrics,
		log:     log,
	}
}

func (r *Relay) Add(id PlayerID, s Sink) { r.sinks[id] = s }

// Remove 移除并关闭连接的发送队列（已排队的消息仍会被写出）
func (r *Relay) Remove(id PlayerID) {
	if s, ok := r.sinks[id]; ok {
		s.Close()
		delete(r.sinks, id)
	}
}

func (r *Relay) Len() int { return len(r.sinks) }

// Broadcast 发给除 exclude 以外的所有连接；exclude 为空表示全部
func (r *Relay) Broadcast(msg any, exclude PlayerID) {
	b, ok := r.marshal(msg)
	if !ok {
		return
	}
	r.metrics.IncBroadcasts()
	for id, s := range r.sinks {
		if id == exclude {
			continue
		}
		r.deliver(id, s, b)
	}
}

// SendTo 仅发给指定连接
func (r *Relay) SendTo(id PlayerID, msg any) {
	s, ok := r.sinks[id]
	if !ok {
		return
	}
	if b, ok := r.marshal(msg); ok {
		r.deliver(id, s, b)
	}
}

// CloseAll 关闭所有发送队列（优雅退出）
func (r *Relay) CloseAll() {
	for id := range r.sinks {
		r.Remove(id)
	}
}

func (r *Relay) marshal(msg any) ([]byte, bool) {
	b, err := json.Marshal(msg)
	if err != nil {
		r.log.Errorw("marshal outbound", "err", err)
		return nil, false
	}
	return b, true
}

func (r *Relay) deliver(id PlayerID, s Sink, b []byte) {
	if !s.Enqueue(b) {
		r.metrics.IncSendsDropped()
		r.log.Debugw("send dropped", "player", id)
	}
}
