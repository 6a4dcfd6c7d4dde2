// Package entitlement は支払いレコードから利用権（エンタイトルメント）を判定する。
package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/chatgate/internal/config"
	"github.com/hitoshi/chatgate/internal/model"
	"github.com/hitoshi/chatgate/internal/repository"
)

// DefaultQueryTimeout は外部ストアへの1回の判定にかける上限時間。
const DefaultQueryTimeout = 5 * time.Second

// historyLimit はソースごとに取得する履歴の上限件数。
const historyLimit = 100

// Outcome はソース1つに問い合わせた結果の種類。
type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeFound
	OutcomeSourceError
)

// String はログ出力用の名前を返す。
func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeSourceError:
		return "source_error"
	default:
		return "not_found"
	}
}

// SourceResult はソース1つ分の問い合わせ結果。
type SourceResult struct {
	Source  string
	Outcome Outcome
	Record  *model.PaymentRecord
	Err     error
}

// Config はResolverの設定。
type Config struct {
	PlanAmountMonths map[int64]int
	QueryTimeout     time.Duration
	// Now は現在時刻を返す。nilの場合は time.Now を使う。
	Now func() time.Time
}

// Resolver は外部IDのユーザーについて現在のアクセス可否を判定する。
// 読み取りのみを行い、同じデータに対しては常に同じ結果を返す。
type Resolver struct {
	identities repository.IdentityRepository
	sources    []repository.PaymentRepository
	classifier *PlanClassifier
	timeout    time.Duration
	now        func() time.Time
}

// NewResolver はResolverを生成する。sourcesは問い合わせる優先順に並べる。
func NewResolver(identities repository.IdentityRepository, sources []repository.PaymentRepository, cfg Config) *Resolver {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		identities: identities,
		sources:    sources,
		classifier: NewPlanClassifier(cfg.PlanAmountMonths),
		timeout:    timeout,
		now:        now,
	}
}

// Resolve は外部ユーザーIDの現在のアクセス判定を返す。
// 外部ストアの障害やタイムアウトは reason=error の拒否として返し、エラーにはしない。
func (r *Resolver) Resolve(ctx context.Context, identityID string) model.AccessDecision {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	identity, err := r.identities.FindByID(ctx, identityID)
	if err != nil {
		slog.Error("failed to look up identity for entitlement",
			slog.String("identity_id", identityID),
			slog.String("error", err.Error()),
		)
		return model.Deny(model.ReasonError)
	}
	if identity == nil {
		return model.Deny(model.ReasonUserNotFound)
	}

	for _, src := range r.sources {
		res := r.lookup(ctx, src, identity)
		switch res.Outcome {
		case OutcomeSourceError:
			slog.Error("payment source lookup failed",
				slog.String("identity_id", identityID),
				slog.String("source", res.Source),
				slog.String("error", res.Err.Error()),
			)
			return model.Deny(model.ReasonError)
		case OutcomeFound:
			return r.Decide(res.Record)
		}
	}

	return model.Deny(model.ReasonNoPayments)
}

// Decide は1件のレコードからアクセス判定を計算する。
func (r *Resolver) Decide(rec *model.PaymentRecord) model.AccessDecision {
	months, classifier := r.classifier.Classify(rec)
	if !IsSupportedPlan(months) {
		slog.Debug("unsupported plan",
			slog.String("plan_label", rec.PlanLabel),
			slog.String("classifier", classifier),
			slog.Int("months", months),
		)
		d := model.Deny(model.ReasonUnsupportedPlan)
		d.Record = rec
		return d
	}

	validFrom := rec.CreatedAt
	if rec.StartDate != nil {
		validFrom = *rec.StartDate
	}
	validUntil := validFrom.AddDate(0, months, 0)
	if rec.EndDate != nil {
		validUntil = *rec.EndDate
	}

	d := model.AccessDecision{
		Allowed:    true,
		Reason:     model.ReasonOK,
		PlanMonths: months,
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
		Record:     rec,
	}
	if !validUntil.After(r.now()) {
		d.Allowed = false
		d.Reason = model.ReasonExpired
	}
	return d
}

// History は全ソースのレコードを作成日時の新しい順にまとめて返す。
// いずれかのソースが失敗した場合は空ではなくエラーを返す。
func (r *Resolver) History(ctx context.Context, identityID string) ([]model.PaymentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	identity, err := r.identities.FindByID(ctx, identityID)
	if err != nil {
		return nil, model.NewAccessError(model.ReasonStoreUnreachable, fmt.Errorf("failed to look up identity: %w", err))
	}
	if identity == nil {
		return nil, model.NewAccessError(model.ReasonUserNotFound, nil)
	}

	var records []model.PaymentRecord
	for _, src := range r.sources {
		key := userKeyFor(src, identity)
		if key == "" {
			continue
		}
		rows, err := src.History(ctx, key, historyLimit)
		if err != nil {
			return nil, model.NewAccessError(model.ReasonStoreUnreachable, fmt.Errorf("failed to list %s history: %w", src.Name(), err))
		}
		records = append(records, rows...)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// lookup はソース1つに最新レコードを問い合わせ、型付きの結果にする。
func (r *Resolver) lookup(ctx context.Context, src repository.PaymentRepository, identity *model.Identity) SourceResult {
	res := SourceResult{Source: src.Name()}

	key := userKeyFor(src, identity)
	if key == "" {
		res.Outcome = OutcomeNotFound
		return res
	}

	rec, err := src.Latest(ctx, key)
	switch {
	case err != nil:
		res.Outcome = OutcomeSourceError
		res.Err = err
	case rec == nil:
		res.Outcome = OutcomeNotFound
	default:
		res.Outcome = OutcomeFound
		res.Record = rec
	}
	return res
}

// userKeyFor はソースが利用者を特定するのに使う値を返す。
func userKeyFor(src repository.PaymentRepository, identity *model.Identity) string {
	if src.UserKey() == config.UserKeyUsername {
		return identity.Username
	}
	return identity.ID
}
