// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 認証ゲートウェイのエラー分類。
// 呼び出し側はerrors.Isで判定し、HTTPレスポンスへの変換はハンドラー層で行う。
var (
	// ErrAuthenticationFailed は提示されたIDアサーションが不正・期限切れであることを示す。
	// 常にクライアント起因であり、サーバー側でリトライしない。
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrUnauthenticated はセッションCookieが存在しない・不正・期限切れ・失効済みであることを示す。
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUpstreamUnavailable はIdPに到達できないことを示す。
	// リトライは呼び出し元の責務とする。
	ErrUpstreamUnavailable = errors.New("identity provider unavailable")

	// ErrNotFound は許可リストにないページ名、またはファイルが存在しないことを示す。
	ErrNotFound = errors.New("not found")

	// ErrConfigurationFatal は起動に必要なシークレットが欠けていることを示す。
	// このエラーが発生した場合はトラフィックを処理してはならない。
	ErrConfigurationFatal = errors.New("fatal configuration error")

	// ErrInvalidAction はアクティビティのアクションラベルが空または長すぎることを示す。
	ErrInvalidAction = errors.New("invalid activity action")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, page, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	ErrCodeUnauthenticated      = "UNAUTHENTICATED"
	ErrCodeUpstreamUnavailable  = "UPSTREAM_UNAVAILABLE"
	ErrCodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeMissingAction        = "MISSING_ACTION"
	ErrCodeInvalidLimit         = "INVALID_LIMIT"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewAuthenticationFailedError はログイン失敗エラーを生成する。
func NewAuthenticationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthenticationFailed,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "もう一度サインインしてください。",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "セッションが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUpstreamUnavailableError はIdP到達不能エラーを生成する。
func NewUpstreamUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  "認証基盤に接続できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewServiceUnavailableError は初期化未完了エラーを生成する。
func NewServiceUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeServiceUnavailable,
		Message:  "サービスの準備が完了していません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNotFoundError はページ未検出エラーを生成する。
func NewNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "指定されたページが見つかりません。",
		Category: "page",
		Action:   "URLを確認してください。",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewMissingActionError はアクション未指定エラーを生成する。
func NewMissingActionError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingAction,
		Message:  "actionが指定されていないか、不正です。",
		Category: "validation",
		Action:   "200文字以内のactionを指定してください。",
	}
}

// NewInvalidLimitError は取得件数指定エラーを生成する。
func NewInvalidLimitError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLimit,
		Message:  fmt.Sprintf("無効な件数指定です: %s", raw),
		Category: "validation",
		Action:   "limitには正の整数を指定してください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "指定された時間が経過してから再度お試しください。",
	}
}
