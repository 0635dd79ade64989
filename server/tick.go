package server

import (
	"context"
	"time"
)

// statsInterval 周期性输出一次运行概况
var statsInterval = 30 * time.Second

// Run 注册表事件循环：所有连接事件在此顺序执行，互不抢占
// ctx 取消后关闭所有发送队列并返回；之后的投递返回 ErrRegistryClosed
func (r *Registry) Run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.relay.CloseAll()
			r.log.Infow("registry stopped", "players", r.joined)
			return
		case ev := <-r.events:
			r.dispatch(ev)
		case <-ticker.C:
			r.log.Infow("relay stats", "sessions", len(r.sessions), "players", r.joined, "metrics", r.metrics.Snapshot())
		}
	}
}

// Done Run 退出后关闭
func (r *Registry) Done() <-chan struct{} { return r.done }
