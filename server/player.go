package server

import "github.com/google/uuid"

// PlayerID 表示玩家唯一标识（连接建立时由服务端分配，连接期内不变）
type PlayerID string

// newPlayerID 生成随机 UUID，不与任何历史 ID 重复
func newPlayerID() PlayerID {
	return PlayerID(uuid.NewString())
}

// 场地与玩家尺寸（与前端画布保持一致）
const (
	FieldWidth  = 800.0
	FieldHeight = 600.0
	PlayerSize  = 40.0

	DefaultName   = "Player"
	MaxNameLength = 32
	MaxChatLength = 100
)

// Palette 玩家颜色，连接时随机分配一次
var Palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A", "#98D8C8",
	"#F7DC6F", "#BB8FCE", "#85C1E2", "#F8B88B", "#AAB7B8",
}

// Player 服务端权威状态，同时也是下发给客户端的完整记录
type Player struct {
	ID          PlayerID `json:"id"`
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
	Color       string   `json:"color"`
	Name        string   `json:"name"`
	Message     string   `json:"message"`
	MessageTime int64    `json:"messageTime"` // unix 毫秒
}

// clampToField 将坐标限制在场地内（扣除半个玩家尺寸）
func clampToField(x, y float64) (float64, float64) {
	const half = PlayerSize / 2
	return clamp(x, half, FieldWidth-half), clamp(y, half, FieldHeight-half)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
