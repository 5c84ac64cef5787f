package model

import "time"

// ActivityActionLogin はログイン成功時に記録するアクションラベル。
const ActivityActionLogin = "login"

// ActivityEntry はユーザー操作1件分の監査ログを表す。
// CreatedAtは書き込み時にログコンポーネントが付与し、呼び出し元からは受け取らない。
// 作成後に更新・削除されることはない。
type ActivityEntry struct {
	ID        string // 単調増加のULID。同一時刻内の並び順を決める
	Subject   string
	Action    string
	CreatedAt time.Time
}
