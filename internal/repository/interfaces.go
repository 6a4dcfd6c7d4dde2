// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hitoshi/chatgate/internal/model"
)

// SessionRepository はセッションデータの永続化インターフェース。
// 実装はPostgreSQL、Redis、インメモリの3種類。
type SessionRepository interface {
	// CreateExclusive は同一identityの有効セッションをすべて無効化した上でセッションを作成する。
	// 無効化と作成はアトミックに行い、無効化した件数を返す。
	CreateExclusive(ctx context.Context, session *model.Session) (int64, error)

	// FindActiveByID は指定時刻において有効なセッションを取得する。
	// 存在しない・無効化済み・期限切れの場合はnilを返す。
	FindActiveByID(ctx context.Context, id string, now time.Time) (*model.Session, error)

	// DeactivateByIdentityID は指定identityの有効セッションをすべて無効化し、件数を返す。
	DeactivateByIdentityID(ctx context.Context, identityID string) (int64, error)

	// DeleteByID は指定IDのセッションを削除し、削除したかどうかを返す。
	// 存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) (bool, error)

	// DeleteExpiredOrInactive は期限切れまたは無効化済みのセッションを削除し、件数を返す。
	DeleteExpiredOrInactive(ctx context.Context, now time.Time) (int64, error)
}

// IdentityRepository は外部IDストアのユーザー参照インターフェース。読み取り専用。
type IdentityRepository interface {
	// FindByEmail はメールアドレス（小文字）でユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Identity, error)

	// FindByUsername はユーザー名（小文字）でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.Identity, error)

	// FindByID は外部ユーザーIDでユーザーを検索する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Identity, error)
}

// PaymentRepository は支払いレコードの取得元1つ分の参照インターフェース。読み取り専用。
type PaymentRepository interface {
	// Name はソース名を返す。ログと履歴の識別に使う。
	Name() string

	// UserKey はソースが利用者を特定するキーの種類（"id" または "username"）を返す。
	UserKey() string

	// Latest は受理ステータスのレコードのうち、ソースの並び順で先頭の1件を返す。
	// 見つからない場合はnilを返す。
	Latest(ctx context.Context, userKey string) (*model.PaymentRecord, error)

	// History はステータスを問わずレコードを新しい順に最大limit件返す。
	History(ctx context.Context, userKey string, limit int) ([]model.PaymentRecord, error)
}

// PgxQuerier は外部IDストアへの問い合わせに使うpgxのサブセット。
// *pgxpool.Pool とテスト用のpgxmockの両方が満たす。
type PgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
