// Package idp は外部IdP（Firebase Authentication）とのやり取りを提供する。
//
// ゲートウェイはIdPをブラックボックスとして扱い、以下の契約のみに依存する。
//   - IDトークン（IDアサーション）の検証
//   - IDトークンと引き換えのセッションCookie発行
//   - セッションCookieの検証（任意で失効チェック）
package idp

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/pagegate/internal/model"
)

var (
	// ErrInvalidToken はトークンの署名・発行者・対象者・有効期限のいずれかが不正であることを示す。
	ErrInvalidToken = errors.New("idp: invalid token")

	// ErrRevoked はトークン発行後にユーザーのセッションが失効されたことを示す。
	ErrRevoked = errors.New("idp: token revoked")

	// ErrUserDisabled はユーザーアカウントが無効化されていることを示す。
	ErrUserDisabled = errors.New("idp: user disabled")

	// ErrUpstreamUnavailable はIdPのエンドポイントに到達できない、または5xxを返したことを示す。
	ErrUpstreamUnavailable = errors.New("idp: upstream unavailable")
)

// Provider はIdPクライアントのインターフェース。
// 実装は起動時に1回生成され、全リクエストから読み取り専用で共有される。
type Provider interface {
	// VerifyIDToken はクライアントが提示したIDトークンを検証する。
	VerifyIDToken(ctx context.Context, idToken string) (*model.Principal, error)

	// CreateSessionCookie はIDトークンと引き換えに、指定期間有効なセッションCookieを発行する。
	CreateSessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error)

	// VerifySessionCookie はセッションCookieを検証する。
	// checkRevokedがtrueの場合はユーザーの失効状態もIdPに問い合わせる。
	VerifySessionCookie(ctx context.Context, cookie string, checkRevoked bool) (*model.Principal, error)

	// Warmup は公開鍵とアクセストークンを事前に取得し、IdPへの疎通を確認する。
	Warmup(ctx context.Context) error
}

// LatencyObserver はIdPへのリクエスト所要時間の記録先。
type LatencyObserver interface {
	ObserveIdPRequest(operation string, d time.Duration)
}
