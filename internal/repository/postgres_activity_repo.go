package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/pagegate/internal/model"
)

// PostgresActivityRepo はPostgreSQLを使用したアクティビティログリポジトリ。
type PostgresActivityRepo struct {
	db *sql.DB
}

// NewPostgresActivityRepo はPostgresActivityRepoを生成する。
func NewPostgresActivityRepo(db *sql.DB) *PostgresActivityRepo {
	return &PostgresActivityRepo{db: db}
}

// Insert はエントリを1件追加する。IDが重複する場合は何もしない。
func (r *PostgresActivityRepo) Insert(ctx context.Context, entry *model.ActivityEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activity_logs (id, subject, action, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.Subject, entry.Action, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}

// ListBySubject は指定主体のエントリを新しい順に最大limit件取得する。
func (r *PostgresActivityRepo) ListBySubject(ctx context.Context, subject string, limit int) ([]*model.ActivityEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, subject, action, created_at
		 FROM activity_logs
		 WHERE subject = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		subject, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity logs: %w", err)
	}
	defer rows.Close()

	entries := make([]*model.ActivityEntry, 0, limit)
	for rows.Next() {
		e := &model.ActivityEntry{}
		if err := rows.Scan(&e.ID, &e.Subject, &e.Action, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity logs: %w", err)
	}

	return entries, nil
}

// Ping はデータベースへの疎通を確認する。
func (r *PostgresActivityRepo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ActivityRepository = (*PostgresActivityRepo)(nil)
