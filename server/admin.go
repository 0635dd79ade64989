package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// HandleHealth 存活探针：GET /health 返回状态、当前玩家数与运行时长
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":  "ok",
		"players": s.reg.Count(),
		"uptime":  time.Since(s.started).Seconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// HandleMetrics 输出中继运行指标
// GET /metrics
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.metrics.Snapshot())
}

// HandleAdminConfig 提供运行规则的读取与更新（热更新经事件循环生效）
// GET /admin/config  返回当前配置
// POST /admin/config 以 JSON 载荷更新部分字段
func (s *Server) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	type cfg struct {
		ClampMoves    *bool `json:"clampMoves,omitempty"`
		MaxChatLength *int  `json:"maxChatLength,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		cur, err := s.reg.Configure(r.Context(), nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cur)
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		next, err := s.reg.Configure(r.Context(), nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if body.ClampMoves != nil {
			next.ClampMoves = *body.ClampMoves
		}
		if body.MaxChatLength != nil {
			next.MaxChatLength = *body.MaxChatLength
		}
		cur, err := s.reg.Configure(r.Context(), &next)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cur)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Routes 注册所有 HTTP 路由
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/health", s.HandleHealth)
	mux.HandleFunc("/metrics", s.HandleMetrics)
	mux.HandleFunc("/admin/config", s.HandleAdminConfig)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// 旧版前端直接连接根路径
		if websocket.IsWebSocketUpgrade(r) {
			s.HandleWS(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plaza relay is running\n"))
	})
	return mux
}
