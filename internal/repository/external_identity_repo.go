package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hitoshi/chatgate/internal/config"
	"github.com/hitoshi/chatgate/internal/model"
)

// ExternalIdentityRepo は外部IDストアのユーザーテーブルを参照するリポジトリ。
// テーブル名・カラム名は config.UsersTable から組み立てる。
type ExternalIdentityRepo struct {
	db     PgxQuerier
	schema config.UsersTable
	// selectClause は SELECT ... FROM ... までの共通部分
	selectClause string
}

// NewExternalIdentityRepo はExternalIdentityRepoを生成する。
func NewExternalIdentityRepo(db PgxQuerier, schema config.UsersTable) *ExternalIdentityRepo {
	username := "''"
	if schema.UsernameColumn != "" {
		username = fmt.Sprintf("COALESCE(%s::text, '')", quoteIdent(schema.UsernameColumn))
	}

	selectClause := fmt.Sprintf(
		"SELECT %s::text, COALESCE(%s::text, ''), %s, COALESCE(%s::text, '') FROM %s",
		quoteIdent(schema.IDColumn),
		quoteIdent(schema.EmailColumn),
		username,
		quoteIdent(schema.PasswordColumn),
		quoteIdent(schema.Table),
	)

	return &ExternalIdentityRepo{db: db, schema: schema, selectClause: selectClause}
}

// FindByEmail はメールアドレスでユーザーを検索する。大文字小文字は区別しない。
func (r *ExternalIdentityRepo) FindByEmail(ctx context.Context, email string) (*model.Identity, error) {
	query := fmt.Sprintf("%s WHERE LOWER(%s::text) = $1 LIMIT 1", r.selectClause, quoteIdent(r.schema.EmailColumn))
	return r.findOne(ctx, query, strings.ToLower(email))
}

// FindByUsername はユーザー名でユーザーを検索する。大文字小文字は区別しない。
// ユーザー名カラムが設定されていない場合は常にnilを返す。
func (r *ExternalIdentityRepo) FindByUsername(ctx context.Context, username string) (*model.Identity, error) {
	if r.schema.UsernameColumn == "" {
		return nil, nil
	}
	query := fmt.Sprintf("%s WHERE LOWER(%s::text) = $1 LIMIT 1", r.selectClause, quoteIdent(r.schema.UsernameColumn))
	return r.findOne(ctx, query, strings.ToLower(username))
}

// FindByID は外部ユーザーIDでユーザーを検索する。
func (r *ExternalIdentityRepo) FindByID(ctx context.Context, id string) (*model.Identity, error) {
	query := fmt.Sprintf("%s WHERE %s::text = $1 LIMIT 1", r.selectClause, quoteIdent(r.schema.IDColumn))
	return r.findOne(ctx, query, id)
}

func (r *ExternalIdentityRepo) findOne(ctx context.Context, query string, arg string) (*model.Identity, error) {
	identity := &model.Identity{}
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&identity.ID,
		&identity.Email,
		&identity.Username,
		&identity.CredentialHash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	identity.Email = strings.ToLower(identity.Email)
	return identity, nil
}

// quoteIdent は "schema.table" 形式を含む識別子をクオートする。
func quoteIdent(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// compile-time interface check
var _ IdentityRepository = (*ExternalIdentityRepo)(nil)
