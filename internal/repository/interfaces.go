// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/pagegate/internal/model"
)

// ActivityRepository はアクティビティログの永続化インターフェース。
// 追記専用であり、更新・削除の操作は持たない。
type ActivityRepository interface {
	// Insert はエントリを1件追加する。
	// 同じIDのエントリが既に存在する場合は何もせず成功として扱う。
	Insert(ctx context.Context, entry *model.ActivityEntry) error

	// ListBySubject は指定主体のエントリを新しい順に最大limit件取得する。
	// 同一時刻のエントリはIDの降順で並ぶ。
	ListBySubject(ctx context.Context, subject string, limit int) ([]*model.ActivityEntry, error)

	// Ping はストレージへの疎通を確認する。
	Ping(ctx context.Context) error
}
