package client

import (
	"encoding/json"
	"fmt"
)

// 服务端 → 客户端
const (
	TypeInit         = "init"
	TypePlayers      = "players"
	TypePlayerJoined = "playerJoined"
	TypePlayerMoved  = "playerMoved"
	TypeChat         = "chat"
	TypePlayerLeft   = "playerLeft"
	TypePong         = "pong"
)

// 客户端 → 服务端
const (
	TypeJoin = "join"
	TypeMove = "move"
	TypePing = "ping"
)

// Player 服务端下发的玩家记录
type Player struct {
	ID          string  `json:"id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Color       string  `json:"color"`
	Name        string  `json:"name"`
	Message     string  `json:"message"`
	MessageTime int64   `json:"messageTime"`
}

// ServerMessage 所有入站类型共用的结构，按 Type 读取对应字段
type ServerMessage struct {
	Type      string   `json:"type"`
	ID        string   `json:"id,omitempty"`
	Color     string   `json:"color,omitempty"`
	X         float64  `json:"x,omitempty"`
	Y         float64  `json:"y,omitempty"`
	Players   []Player `json:"players,omitempty"`
	Player    *Player  `json:"player,omitempty"`
	Message   string   `json:"message,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

type joinMessage struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type moveMessage struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type chatMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pingMessage struct {
	Type string `json:"type"`
}

// DecodeServerMessage 解析一条服务端消息；缺少必要字段视为格式错误
func DecodeServerMessage(payload []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("decode server message: %w", err)
	}
	switch msg.Type {
	case "":
		return msg, fmt.Errorf("decode server message: missing type")
	case TypeInit, TypePlayerMoved, TypeChat, TypePlayerLeft:
		if msg.ID == "" {
			return msg, fmt.Errorf("decode server message: %s without id", msg.Type)
		}
	case TypePlayerJoined:
		if msg.Player == nil || msg.Player.ID == "" {
			return msg, fmt.Errorf("decode server message: playerJoined without player")
		}
	}
	return msg, nil
}
