package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hitoshi/chatgate/internal/config"
	"github.com/hitoshi/chatgate/internal/model"
)

// ExternalPaymentRepo は外部IDストアの支払い系テーブル1つを参照するリポジトリ。
// 任意カラムが未設定の場合はNULLとして扱う。
type ExternalPaymentRepo struct {
	db       PgxQuerier
	source   config.PaymentSource
	statuses []string
	// baseQuery は WHERE 句の利用者条件までの共通部分
	baseQuery string
	orderBy   string
}

// NewExternalPaymentRepo はExternalPaymentRepoを生成する。
func NewExternalPaymentRepo(db PgxQuerier, source config.PaymentSource) *ExternalPaymentRepo {
	statuses := make([]string, 0, len(source.Statuses))
	for _, s := range source.Statuses {
		statuses = append(statuses, strings.ToLower(s))
	}

	created := quoteIdent(source.CreatedColumn)
	baseQuery := fmt.Sprintf(
		"SELECT %s, %s, COALESCE(%s::text, ''), %s, %s, %s::timestamptz, %s, %s FROM %s WHERE %s::text = $1",
		optionalColumn(source.PlanColumn, "COALESCE(%s::text, '')", "''"),
		optionalColumn(source.AmountColumn, "%s::float8", "NULL::float8"),
		quoteIdent(source.StatusColumn),
		optionalColumn(source.StartColumn, "%s::timestamptz", "NULL::timestamptz"),
		optionalColumn(source.EndColumn, "%s::timestamptz", "NULL::timestamptz"),
		created,
		optionalColumn(source.TransactionColumn, "COALESCE(%s::text, '')", "''"),
		optionalColumn(source.PaymentMethodColumn, "COALESCE(%s::text, '')", "''"),
		quoteIdent(source.Table),
		quoteIdent(source.UserColumn),
	)

	orderBy := fmt.Sprintf("%s DESC", created)
	if source.OrderBy == config.OrderEndDesc {
		orderBy = fmt.Sprintf("%s DESC NULLS LAST, %s DESC", quoteIdent(source.EndColumn), created)
	}

	return &ExternalPaymentRepo{
		db:        db,
		source:    source,
		statuses:  statuses,
		baseQuery: baseQuery,
		orderBy:   orderBy,
	}
}

// Name はソース名を返す。
func (r *ExternalPaymentRepo) Name() string {
	return r.source.Name
}

// UserKey はソースが利用者を特定するキーの種類を返す。
func (r *ExternalPaymentRepo) UserKey() string {
	return r.source.UserKey
}

// Latest はソースの並び順で先頭のレコードを返す。見つからない場合はnilを返す。
func (r *ExternalPaymentRepo) Latest(ctx context.Context, userKey string) (*model.PaymentRecord, error) {
	query := fmt.Sprintf("%s AND LOWER(%s::text) = ANY($2) ORDER BY %s LIMIT 1",
		r.baseQuery, quoteIdent(r.source.StatusColumn), r.orderBy)

	record, err := r.scanRecord(r.db.QueryRow(ctx, query, userKey, r.statuses))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest %s record: %w", r.source.Name, err)
	}
	return &record, nil
}

// History はステータスを問わずレコードを作成日時の新しい順に最大limit件返す。
func (r *ExternalPaymentRepo) History(ctx context.Context, userKey string, limit int) ([]model.PaymentRecord, error) {
	query := fmt.Sprintf("%s ORDER BY %s DESC LIMIT $2", r.baseQuery, quoteIdent(r.source.CreatedColumn))

	rows, err := r.db.Query(ctx, query, userKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", r.source.Name, err)
	}
	defer rows.Close()

	var records []model.PaymentRecord
	for rows.Next() {
		record, err := r.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", r.source.Name, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s records: %w", r.source.Name, err)
	}

	return records, nil
}

func (r *ExternalPaymentRepo) scanRecord(row pgx.Row) (model.PaymentRecord, error) {
	var (
		record    model.PaymentRecord
		amount    *float64
		startDate *time.Time
		endDate   *time.Time
	)
	if err := row.Scan(
		&record.PlanLabel,
		&amount,
		&record.Status,
		&startDate,
		&endDate,
		&record.CreatedAt,
		&record.TransactionID,
		&record.PaymentMethod,
	); err != nil {
		return model.PaymentRecord{}, err
	}

	record.Amount = amount
	record.StartDate = startDate
	record.EndDate = endDate
	record.Source = model.SourceTag(r.source.Name)
	return record, nil
}

// optionalColumn はカラム名が空ならfallbackを、そうでなければformatに埋め込んだ式を返す。
func optionalColumn(column, format, fallback string) string {
	if column == "" {
		return fallback
	}
	return fmt.Sprintf(format, quoteIdent(column))
}

// compile-time interface check
var _ PaymentRepository = (*ExternalPaymentRepo)(nil)
