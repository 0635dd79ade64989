package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/exp/rand"

	"plaza/client"
	"plaza/server"
)

var chatter = []string{"hi", "hello!", "anyone here?", "over here", "brb", "gg"}

// logRenderer 没有画面的渲染器：定期把帧摘要写进日志
type logRenderer struct {
	log   *zap.SugaredLogger
	every time.Duration
	last  time.Time
}

func (r *logRenderer) Render(f client.Frame) {
	if f.Now.Sub(r.last) < r.every {
		return
	}
	r.last = f.Now
	for _, p := range f.Players {
		if p.Self {
			r.log.Debugw("frame", "players", len(f.Players), "x", int(p.X), "y", int(p.Y), "moving", f.Target != nil)
		}
	}
}

// drive 随机游走：周期性选择新的点击目标，偶尔说话
func drive(ctx context.Context, c *client.Client, rng *rand.Rand, chatChance float64) {
	for {
		wait := time.Duration(800+rng.Intn(2200)) * time.Millisecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		c.MoveTo(20+rng.Float64()*760, 20+rng.Float64()*560)
		if rng.Float64() < chatChance {
			c.Chat(chatter[rng.Intn(len(chatter))])
		}
	}
}

func main() {
	url := flag.String("url", "ws://localhost:3001/ws", "relay websocket url")
	bots := flag.Int("bots", 3, "number of bot clients")
	name := flag.String("name", "bot", "display name prefix")
	duration := flag.Duration("duration", 0, "stop after this long; 0 runs until interrupted")
	seed := flag.Uint64("seed", 0, "random seed; 0 uses the clock")
	chat := flag.Float64("chat", 0.2, "chance of chatting after each move")
	level := flag.String("level", "info", "log level")
	flag.Parse()

	lvl, err := zapcore.ParseLevel(*level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad -level: %v\n", err)
		os.Exit(2)
	}
	if *bots < 1 {
		fmt.Fprintln(os.Stderr, "-bots must be >= 1")
		os.Exit(2)
	}
	logger := server.NewLogger("", lvl)
	defer server.SyncLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	s := *seed
	if s == 0 {
		s = uint64(time.Now().UnixNano())
	}

	var wg sync.WaitGroup
	for i := 0; i < *bots; i++ {
		botName := fmt.Sprintf("%s-%d", *name, i+1)
		log := logger.With("bot", botName)
		c := client.New(client.Options{
			URL:      *url,
			Name:     botName,
			Renderer: &logRenderer{log: log, every: time.Second},
			Log:      log,
		})
		rng := rand.New(rand.NewSource(s + uint64(i)))

		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				log.Errorw("client stopped", "err", err)
			}
		}()
		go func() {
			defer wg.Done()
			drive(ctx, c, rng, *chat)
		}()
	}

	logger.Infow("bots running", "url", *url, "bots", *bots, "seed", s)
	<-ctx.Done()
	wg.Wait()

	logger.Info("bots stopped")
}
