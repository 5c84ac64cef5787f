// Package worker はリクエストから切り離したバックグラウンド処理と、
// そのリトライ/バックオフ戦略を提供する。
package worker

import (
	"context"
	"time"
)

// Backoff は指数バックオフの設定。
// 初回Initial、2倍ずつ増加し、Maxで頭打ちになる。
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay は失敗回数に基づいてバックオフ遅延を計算する。
// failuresが0以下の場合はInitialを返す。
func (b Backoff) Delay(failures int) time.Duration {
	delay := b.Initial
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= b.Max {
			return b.Max
		}
	}
	if delay > b.Max {
		return b.Max
	}
	return delay
}

// Sleep はdだけ待機する。待機中にctxがキャンセルされた場合はctx.Err()を返す。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry はfnが成功するか、maxAttempts回に達するまで実行する。
// 試行の間にはbackoffに従って待機する。最後のエラーを返す。
func Retry(ctx context.Context, maxAttempts int, backoff Backoff, fn func(ctx context.Context, attempt int) error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		if sleepErr := Sleep(ctx, backoff.Delay(attempt)); sleepErr != nil {
			return err
		}
	}
	return err
}
