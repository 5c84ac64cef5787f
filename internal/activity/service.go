// Package activity はユーザー操作の追記専用ログを提供する。
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hitoshi/pagegate/internal/model"
	"github.com/hitoshi/pagegate/internal/repository"
	"github.com/hitoshi/pagegate/internal/security"
	"github.com/hitoshi/pagegate/internal/worker"
)

const (
	// DefaultHistoryLimit はlimit未指定時の取得件数。
	DefaultHistoryLimit = 20
	// MaxHistoryLimit は1回で取得できる最大件数。
	MaxHistoryLimit = 100
)

// Runner はリクエストから切り離したタスクの実行先。
type Runner interface {
	Go(name string, task func(ctx context.Context))
}

// Metrics はアクティビティ書き込み結果のカウンター。
type Metrics interface {
	IncActivityWrite(result string)
}

// Config は非同期書き込みのリトライ設定。
type Config struct {
	MaxAttempts  int
	Backoff      worker.Backoff
	WriteTimeout time.Duration // 1回の書き込みのタイムアウト
}

// DefaultConfig は既定のリトライ設定を返す。
// 最大3回、50msから2倍ずつ、最大1秒まで待機する。
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		Backoff:      worker.Backoff{Initial: 50 * time.Millisecond, Max: time.Second},
		WriteTimeout: 5 * time.Second,
	}
}

// Service はアクティビティログの追記と履歴取得を提供する。
type Service struct {
	repo      repository.ActivityRepository
	runner    Runner
	sanitizer security.LabelSanitizer
	metrics   Metrics
	config    Config
	now       func() time.Time

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewService はServiceを生成する。
func NewService(repo repository.ActivityRepository, runner Runner, metrics Metrics, cfg Config) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Service{
		repo:      repo,
		runner:    runner,
		sanitizer: security.NewLabelSanitizer(),
		metrics:   metrics,
		config:    cfg,
		now:       time.Now,
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Append はエントリを同期的に1件追加し、保存したエントリを返す。
// ラベルが不正な場合はmodel.ErrInvalidActionを返す。
func (s *Service) Append(ctx context.Context, subject, action string) (*model.ActivityEntry, error) {
	entry, err := s.newEntry(subject, action)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Insert(ctx, entry); err != nil {
		s.incWrite("error")
		return nil, fmt.Errorf("append activity: %w", err)
	}

	s.incWrite("success")
	return entry, nil
}

// Record はエントリの追加を非同期に行う。結果は呼び出し元に返さない。
// IDと時刻はこの呼び出し時点で確定し、リトライしても重複しない。
func (s *Service) Record(subject, action string) {
	entry, err := s.newEntry(subject, action)
	if err != nil {
		slog.Warn("activity record skipped",
			slog.String("user_id", subject),
			slog.String("error", err.Error()),
		)
		s.incWrite("dropped")
		return
	}

	s.runner.Go("activity:"+entry.Action, func(ctx context.Context) {
		s.writeWithRetry(ctx, entry)
	})
}

// History は指定主体のエントリを新しい順に返す。
// limitが0以下の場合はDefaultHistoryLimit、MaxHistoryLimitを超える場合はMaxHistoryLimitとする。
func (s *Service) History(ctx context.Context, subject string, limit int) ([]*model.ActivityEntry, error) {
	limit = NormalizeLimit(limit)

	entries, err := s.repo.ListBySubject(ctx, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity history: %w", err)
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Ping はストレージへの疎通を確認する。
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// NormalizeLimit は取得件数を許容範囲に収める。
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

func (s *Service) writeWithRetry(ctx context.Context, entry *model.ActivityEntry) {
	err := worker.Retry(ctx, s.config.MaxAttempts, s.config.Backoff, func(ctx context.Context, attempt int) error {
		wctx := ctx
		if s.config.WriteTimeout > 0 {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(ctx, s.config.WriteTimeout)
			defer cancel()
		}

		err := s.repo.Insert(wctx, entry)
		if err != nil {
			slog.Warn("activity write attempt failed",
				slog.String("activity_id", entry.ID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		return err
	})
	if err != nil {
		s.incWrite("error")
		slog.Error("activity write failed",
			slog.String("activity_id", entry.ID),
			slog.String("user_id", entry.Subject),
			slog.String("action", entry.Action),
			slog.String("error", err.Error()),
		)
		return
	}
	s.incWrite("success")
}

func (s *Service) newEntry(subject, action string) (*model.ActivityEntry, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: subject is empty", model.ErrInvalidAction)
	}
	label, ok := s.sanitizer.Sanitize(action)
	if !ok {
		return nil, fmt.Errorf("%w: action must be 1-%d characters", model.ErrInvalidAction, security.MaxLabelLength)
	}

	now := s.now().UTC()
	return &model.ActivityEntry{
		ID:        s.newID(now),
		Subject:   subject,
		Action:    label,
		CreatedAt: now,
	}, nil
}

// newID は時刻順に並ぶULIDを生成する。同一ミリ秒内でも単調増加する。
func (s *Service) newID(t time.Time) string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

func (s *Service) incWrite(result string) {
	if s.metrics != nil {
		s.metrics.IncActivityWrite(result)
	}
}
