package model

import "time"

// Principal は検証済みセッションの主体を表す。
// 1リクエストのスコープでのみ有効で、リクエストをまたいでキャッシュしない。
type Principal struct {
	Subject   string // IdPが発行した不透明なユーザー識別子
	Email     string
	AuthTime  time.Time // IdPでの最終サインイン時刻
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SessionCredential はクライアントに渡す署名付きセッションCookieを表す。
// 値そのものは不透明で、ゲートウェイは再検証なしに中身を信用しない。
type SessionCredential struct {
	Value     string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Lifetime はセッションの有効期間を返す。
func (c *SessionCredential) Lifetime() time.Duration {
	return c.ExpiresAt.Sub(c.IssuedAt)
}
