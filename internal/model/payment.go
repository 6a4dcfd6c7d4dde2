package model

import "time"

// SourceTag は支払いレコードの取得元テーブルを表す。
type SourceTag string

const (
	// SourcePayments は一次ソース（決済テーブル）。
	SourcePayments SourceTag = "payments"
	// SourceSubscriptions は二次ソース（サブスクリプションテーブル）。
	SourceSubscriptions SourceTag = "subscriptions"
)

// PaymentRecord は外部ストアの支払い・サブスクリプションレコード。
// 形が揃っていないため、任意項目はポインタで保持する。
type PaymentRecord struct {
	PlanLabel string
	Amount    *float64
	Status    string
	StartDate *time.Time
	EndDate   *time.Time
	CreatedAt time.Time
	Source    SourceTag
	// 履歴表示用。判定には使わない
	TransactionID string
	PaymentMethod string
}

// HasAmount は金額が存在し、かつ0でない場合にtrueを返す。
func (p *PaymentRecord) HasAmount() bool {
	return p.Amount != nil && *p.Amount != 0
}
