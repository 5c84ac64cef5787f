// Package auth はセッションCookieの発行と検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/pagegate/internal/config"
	"github.com/hitoshi/pagegate/internal/idp"
	"github.com/hitoshi/pagegate/internal/model"
)

// ActivityRecorder はログイン成功を非同期に記録する書き込み先。
// 記録の失敗はログインの結果に影響しない。
type ActivityRecorder interface {
	Record(subject, action string)
}

// Metrics は認証結果のカウンター。
type Metrics interface {
	IncLogin(result string)
	IncSessionVerify(result string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionLifetime time.Duration // 発行するセッションCookieの有効期間
	CheckRevoked    bool          // 検証時にIdPへ失効状態を問い合わせるか
	ProviderTimeout time.Duration // IdP呼び出し1回あたりのタイムアウト
}

// Service はログイン（IDトークン→セッションCookie）と、セッションCookieの検証を提供する。
// 状態を持たないため、複数のgoroutineから同時に利用できる。
type Service struct {
	provider idp.Provider
	activity ActivityRecorder
	metrics  Metrics
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。
// セッション有効期間はconfig.MinSessionLifetimeからconfig.MaxSessionLifetimeの範囲に丸める。
func NewService(provider idp.Provider, activity ActivityRecorder, metrics Metrics, cfg ServiceConfig) *Service {
	cfg.SessionLifetime = ClampLifetime(cfg.SessionLifetime)
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	return &Service{
		provider: provider,
		activity: activity,
		metrics:  metrics,
		config:   cfg,
		now:      time.Now,
	}
}

// ClampLifetime はセッション有効期間を許容範囲に収める。
func ClampLifetime(d time.Duration) time.Duration {
	if d > config.MaxSessionLifetime {
		return config.MaxSessionLifetime
	}
	if d < config.MinSessionLifetime {
		return config.MinSessionLifetime
	}
	return d
}

// SessionLifetime は発行するセッションCookieの有効期間を返す。
func (s *Service) SessionLifetime() time.Duration {
	return s.config.SessionLifetime
}

// Login はIDトークンを検証し、成功した場合のみセッションCookieを発行する。
// 発行後に"login"アクティビティを1件だけ非同期で記録する。
//
// IdPへの呼び出しはクライアントの切断でキャンセルされない。
// 発行したCookieには必ず"login"の記録が1件伴う。
func (s *Service) Login(ctx context.Context, idToken string) (*model.SessionCredential, error) {
	if idToken == "" {
		s.incLogin("invalid")
		return nil, fmt.Errorf("%w: id token is empty", model.ErrAuthenticationFailed)
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ProviderTimeout)
	defer cancel()

	principal, err := s.provider.VerifyIDToken(pctx, idToken)
	if err != nil {
		err = s.classifyLoginError("verify id token", err)
		return nil, err
	}

	issuedAt := s.now()
	value, err := s.provider.CreateSessionCookie(pctx, idToken, s.config.SessionLifetime)
	if err != nil {
		err = s.classifyLoginError("create session cookie", err)
		return nil, err
	}

	if s.activity != nil {
		s.activity.Record(principal.Subject, model.ActivityActionLogin)
	}

	s.incLogin("success")
	slog.Info("user logged in",
		slog.String("user_id", principal.Subject),
		slog.Duration("session_lifetime", s.config.SessionLifetime),
	)

	return &model.SessionCredential{
		Value:     value,
		Subject:   principal.Subject,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(s.config.SessionLifetime),
	}, nil
}

// Verify はセッションCookieを検証し、主体を返す。
// 空文字はCookie無しとして扱う。検証に失敗した場合は理由を問わずmodel.ErrUnauthenticatedを返す。
func (s *Service) Verify(ctx context.Context, credential string) (*model.Principal, error) {
	if credential == "" {
		s.incVerify("missing")
		return nil, fmt.Errorf("%w: no session credential", model.ErrUnauthenticated)
	}

	principal, err := s.provider.VerifySessionCookie(ctx, credential, s.config.CheckRevoked)
	if err != nil {
		if errors.Is(err, idp.ErrUpstreamUnavailable) {
			s.incVerify("upstream_error")
			slog.Warn("session verification failed: identity provider unavailable",
				slog.String("error", err.Error()),
			)
		} else {
			s.incVerify("invalid")
			slog.Debug("session verification rejected", slog.String("error", err.Error()))
		}
		return nil, fmt.Errorf("%w: %v", model.ErrUnauthenticated, err)
	}

	s.incVerify("ok")
	return principal, nil
}

// classifyLoginError はIdPのエラーを認証失敗とIdP到達不能に分類する。
func (s *Service) classifyLoginError(op string, err error) error {
	if errors.Is(err, idp.ErrUpstreamUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		s.incLogin("upstream_error")
		slog.Error("login failed: identity provider unavailable",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %s: %v", model.ErrUpstreamUnavailable, op, err)
	}

	s.incLogin("invalid")
	slog.Info("login rejected", slog.String("op", op), slog.String("error", err.Error()))
	return fmt.Errorf("%w: %s: %v", model.ErrAuthenticationFailed, op, err)
}

func (s *Service) incLogin(result string) {
	if s.metrics != nil {
		s.metrics.IncLogin(result)
	}
}

func (s *Service) incVerify(result string) {
	if s.metrics != nil {
		s.metrics.IncSessionVerify(result)
	}
}
