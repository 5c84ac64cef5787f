// Package lifecycle はプロセス全体で1回だけ行う初期化の状態機械を提供する。
//
// 状態は Uninitialized → Initializing → Ready | Failed と遷移する。
// 一時的な失敗はバックオフ付きで再試行し、設定起因の失敗（model.ErrConfigurationFatal）は
// 再試行せずにFailedへ遷移する。
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hitoshi/pagegate/internal/model"
	"github.com/hitoshi/pagegate/internal/worker"
)

// State は初期化の状態。
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// InitFunc は初期化処理の本体。成功するまで繰り返し呼ばれることがある。
type InitFunc func(ctx context.Context) error

// Metrics は初期化状態のゲージ。
type Metrics interface {
	SetInitState(state int)
}

// Initializer は初期化処理を1回だけ（成功するまで）実行し、その状態を公開する。
// 状態の参照は複数のgoroutineから同時に行える。
type Initializer struct {
	fn      InitFunc
	backoff worker.Backoff
	metrics Metrics
	logger  *slog.Logger

	state atomic.Int32
	once  sync.Once
	done  chan struct{}

	mu      sync.Mutex
	lastErr error
}

// New はInitializerを生成する。
func New(fn InitFunc, backoff worker.Backoff, metrics Metrics, logger *slog.Logger) *Initializer {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Initializer{
		fn:      fn,
		backoff: backoff,
		metrics: metrics,
		logger:  logger,
		done:    make(chan struct{}),
	}
	i.setState(StateUninitialized)
	return i
}

// Start は初期化をバックグラウンドで開始する。
// 何度呼んでも初期化処理は1系統しか走らない。
func (i *Initializer) Start(ctx context.Context) {
	i.once.Do(func() {
		go func() {
			_ = i.run(ctx)
		}()
	})
}

// Run は初期化を開始し、ReadyまたはFailedになるか、ctxが終了するまで待つ。
// Readyになった場合はnilを返す。
func (i *Initializer) Run(ctx context.Context) error {
	ran := false
	i.once.Do(func() {
		ran = true
	})
	if ran {
		return i.run(ctx)
	}
	return i.Wait(ctx)
}

// Wait はReadyまたはFailedになるまで待つ。
func (i *Initializer) Wait(ctx context.Context) error {
	select {
	case <-i.done:
		if i.State() == StateReady {
			return nil
		}
		return i.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done はReadyまたはFailedになった時点でcloseされるチャネルを返す。
func (i *Initializer) Done() <-chan struct{} {
	return i.done
}

// State は現在の状態を返す。
func (i *Initializer) State() State {
	return State(i.state.Load())
}

// Ready は初期化が完了しているかを返す。
func (i *Initializer) Ready() bool {
	return i.State() == StateReady
}

// Err は直近の初期化エラーを返す。
func (i *Initializer) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastErr
}

func (i *Initializer) run(ctx context.Context) error {
	i.setState(StateInitializing)

	for attempt := 1; ; attempt++ {
		err := i.fn(ctx)
		if err == nil {
			i.setErr(nil)
			i.setState(StateReady)
			close(i.done)
			i.logger.Info("initialization completed", slog.Int("attempt", attempt))
			return nil
		}

		i.setErr(err)
		if errors.Is(err, model.ErrConfigurationFatal) {
			i.setState(StateFailed)
			close(i.done)
			i.logger.Error("initialization failed permanently",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		}

		delay := i.backoff.Delay(attempt)
		i.logger.Warn("initialization failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)
		if sleepErr := worker.Sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}

func (i *Initializer) setState(s State) {
	i.state.Store(int32(s))
	if i.metrics != nil {
		i.metrics.SetInitState(int(s))
	}
}

func (i *Initializer) setErr(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.lastErr = err
}
