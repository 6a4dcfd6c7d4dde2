package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/chatgate/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// CreateExclusive は既存の有効セッションを無効化してからセッションを作成する。
// 同一identityへの同時ログインはアドバイザリロックで直列化する。
// uq_chat_sessions_one_active が最終的な整合性を保証する。
func (r *PostgresSessionRepo) CreateExclusive(ctx context.Context, session *model.Session) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		session.IdentityID,
	); err != nil {
		return 0, fmt.Errorf("failed to lock identity sessions: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET is_active = false
		 WHERE identity_id = $1 AND is_active`,
		session.IdentityID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate sessions: %w", err)
	}
	invalidated, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, identity_id, email, created_at, expires_at, is_active)
		 VALUES ($1, $2, $3, $4, $5, true)`,
		session.ID, session.IdentityID, session.Email, session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	session.Active = true
	return invalidated, nil
}

// FindActiveByID は指定IDの有効なセッションを取得する。
// 無効化済み・期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindActiveByID(ctx context.Context, id string, now time.Time) (*model.Session, error) {
	session := &model.Session{}
	err := r.db.QueryRowContext(ctx,
		`SELECT session_id, identity_id, email, created_at, expires_at, is_active
		 FROM chat_sessions
		 WHERE session_id = $1 AND is_active AND expires_at > $2`,
		id, now,
	).Scan(&session.ID, &session.IdentityID, &session.Email, &session.CreatedAt, &session.ExpiresAt, &session.Active)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return session, nil
}

// DeactivateByIdentityID は指定identityの有効セッションをすべて無効化する。
func (r *PostgresSessionRepo) DeactivateByIdentityID(ctx context.Context, identityID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE chat_sessions SET is_active = false
		 WHERE identity_id = $1 AND is_active`,
		identityID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE session_id = $1`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteExpiredOrInactive は期限切れまたは無効化済みのセッションを削除する。
func (r *PostgresSessionRepo) DeleteExpiredOrInactive(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE expires_at <= $1 OR NOT is_active`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
