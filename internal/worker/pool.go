package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Pool はリクエストのライフサイクルから切り離したタスクを実行する。
// semaphoreパターンで同時実行数を制御し、シャットダウン時には実行中のタスクを待ち合わせる。
type Pool struct {
	logger *slog.Logger
	sem    chan struct{}
	wg     sync.WaitGroup
}

// NewPool はPoolを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewPool(logger *slog.Logger, maxConcurrency int) *Pool {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		logger: logger,
		sem:    make(chan struct{}, maxConcurrency),
	}
}

// Go はタスクを非同期に実行する。呼び出し元はブロックしない。
// タスクに渡すcontextは呼び出し元のキャンセルを引き継がない。
func (p *Pool) Go(name string, task func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		defer func() {
			if rec := recover(); rec != nil {
				p.logger.Error("detached task panicked",
					slog.String("task", name),
					slog.Any("panic", rec),
				)
			}
		}()

		task(context.Background())
	}()
}

// Wait は実行中・待機中のタスクがすべて終わるか、ctxが終了するまで待つ。
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn("detached tasks did not finish before shutdown deadline")
		return ctx.Err()
	}
}
