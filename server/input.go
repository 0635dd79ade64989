package server

import (
	"encoding/json"
	"fmt"
)

// 客户端 → 服务端消息类型
const (
	TypeJoin = "join"
	TypeMove = "move"
	TypeChat = "chat"
	TypePing = "ping"
)

// InboundMessage 入站 JSON 结构（WebSocket 文本消息），各类型共用
// 示例：{"type":"move","x":100,"y":200}
type InboundMessage struct {
	Type    string   `json:"type"`
	Name    string   `json:"name,omitempty"`
	X       *float64 `json:"x,omitempty"`
	Y       *float64 `json:"y,omitempty"`
	Message string   `json:"message,omitempty"`
}

// DecodeInbound 解析一条入站消息；格式错误返回 error，由调用方记录后丢弃
func DecodeInbound(payload []byte) (InboundMessage, error) {
	var im InboundMessage
	if err := json.Unmarshal(payload, &im); err != nil {
		return im, fmt.Errorf("decode inbound: %w", err)
	}
	if im.Type == "" {
		return im, fmt.Errorf("decode inbound: missing type")
	}
	if im.Type == TypeMove && (im.X == nil || im.Y == nil) {
		return im, fmt.Errorf("decode inbound: move without coordinates")
	}
	return im, nil
}
