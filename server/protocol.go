package server

// 服务端 → 客户端消息类型
const (
	TypeInit         = "init"
	TypePlayers      = "players"
	TypePlayerJoined = "playerJoined"
	TypePlayerMoved  = "playerMoved"
	TypePlayerLeft   = "playerLeft"
	TypePong         = "pong"
	// TypeChat 与入站共用 "chat"
)

type InitMessage struct {
	Type  string   `json:"type"`
	ID    PlayerID `json:"id"`
	Color string   `json:"color"`
	X     float64  `json:"x"`
	Y     float64  `json:"y"`
}

// RosterMessage 新连接收到的一次性玩家列表快照
type RosterMessage struct {
	Type    string   `json:"type"`
	Players []Player `json:"players"`
}

type JoinedMessage struct {
	Type   string `json:"type"`
	Player Player `json:"player"`
}

// MovedMessage 只携带 id 与坐标，不带完整记录
type MovedMessage struct {
	Type string   `json:"type"`
	ID   PlayerID `json:"id"`
	X    float64  `json:"x"`
	Y    float64  `json:"y"`
}

type ChatMessage struct {
	Type      string   `json:"type"`
	ID        PlayerID `json:"id"`
	Message   string   `json:"message"`
	Timestamp int64    `json:"timestamp"`
}

type LeftMessage struct {
	Type string   `json:"type"`
	ID   PlayerID `json:"id"`
}

type PongMessage struct {
	Type string `json:"type"`
}
