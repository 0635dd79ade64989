package server

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap/zapcore"
)

// Config 中继进程配置：默认值 → PORT 环境变量 → JSON 文件 → 命令行参数
type Config struct {
	Addr          string `json:"addr"`
	LogFile       string `json:"logFile"`
	LogLevel      string `json:"logLevel"`
	Seed          uint64 `json:"seed"` // 0 表示按时间随机
	ClampMoves    bool   `json:"clampMoves"`
	MaxChatLength int    `json:"maxChatLength"`
	SendBuffer    int    `json:"sendBuffer"`
}

func DefaultConfig() Config {
	return Config{
		Addr:          ":3001",
		LogLevel:      "info",
		ClampMoves:    true,
		MaxChatLength: MaxChatLength,
		SendBuffer:    sendBuffer,
	}
}

// Level 解析日志级别，无法识别时回退到 info
func (c Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// LoadConfig 读取 JSON 配置文件并覆盖到 base 上
func LoadConfig(path string, base Config) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &base); err != nil {
		return base, fmt.Errorf("parse config %s: %w", path, err)
	}
	return base, nil
}

// ParseConfig 解析命令行；命令行参数优先于配置文件
func ParseConfig(args []string, getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()
	if port := getenv("PORT"); port != "" {
		cfg.Addr = ":" + port
	}
	var path string
	if err := newFlagSet(&cfg, &path).Parse(args); err != nil {
		return cfg, err
	}
	if path == "" {
		return cfg, nil
	}

	base := DefaultConfig()
	if port := getenv("PORT"); port != "" {
		base.Addr = ":" + port
	}
	fileCfg, err := LoadConfig(path, base)
	if err != nil {
		return cfg, err
	}
	// 再解析一次，让显式参数覆盖文件中的值
	if err := newFlagSet(&fileCfg, &path).Parse(args); err != nil {
		return cfg, err
	}
	return fileCfg, nil
}

func newFlagSet(cfg *Config, path *string) *flag.FlagSet {
	fs := flag.NewFlagSet("plaza", flag.ContinueOnError)
	fs.StringVar(path, "config", "", "optional JSON config file")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "server listen address, e.g. :3001")
	fs.StringVar(&cfg.LogFile, "log", cfg.LogFile, "rolling log file path (stderr only when empty)")
	fs.StringVar(&cfg.LogLevel, "level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for colours and spawn points (0 = time based)")
	fs.BoolVar(&cfg.ClampMoves, "clamp", cfg.ClampMoves, "clamp reported positions to the playfield")
	fs.IntVar(&cfg.MaxChatLength, "max-chat", cfg.MaxChatLength, "maximum chat message length in characters")
	fs.IntVar(&cfg.SendBuffer, "send-buffer", cfg.SendBuffer, "per-connection outbound queue size")
	return fs
}
