package health

import (
	"context"
	"time"

	"arbiter/internal/logger"
)

// SupervisedTask 包装一个长驻后台循环：panic 后按有界次数重启，而不是
// 拖垮整个进程或无限重启。
type SupervisedTask struct {
	Name        string
	Run         func(ctx context.Context)
	MaxRestarts int
	backoff     time.Duration
}

// Start 启动任务 goroutine 并挂上看门狗。
func (t *SupervisedTask) Start(ctx context.Context) {
	if t == nil || t.Run == nil {
		return
	}
	if t.MaxRestarts <= 0 {
		t.MaxRestarts = 5
	}
	if t.backoff <= 0 {
		t.backoff = 2 * time.Second
	}
	go t.loop(ctx)
}

func (t *SupervisedTask) loop(ctx context.Context) {
	restarts := 0
	for {
		panicked := t.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if !panicked {
			// 任务正常返回：不是崩溃，不重启。
			logger.Infof("task %s exited", t.Name)
			return
		}
		restarts++
		if restarts > t.MaxRestarts {
			logger.Errorf("task %s exceeded %d restarts, giving up", t.Name, t.MaxRestarts)
			return
		}
		wait := time.Duration(restarts) * t.backoff
		logger.Warnf("task %s restarting in %s (attempt %d/%d)", t.Name, wait, restarts, t.MaxRestarts)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (t *SupervisedTask) runOnce(ctx context.Context) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			logger.Errorf("task %s panic: %v", t.Name, r)
		}
	}()
	t.Run(ctx)
	return false
}
