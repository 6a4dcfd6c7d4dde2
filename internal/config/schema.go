package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ソースが利用者を特定する際のキー
const (
	UserKeyUsername = "username"
	UserKeyID       = "id"
)

// ソースの並び順
const (
	OrderCreatedDesc = "created_desc"
	OrderEndDesc     = "end_desc"
)

// ExternalSchema は外部IDストアのテーブル・カラム対応表。
// スキーマは外部が所有するため、名前はすべて設定で差し替え可能にしている。
type ExternalSchema struct {
	Users          UsersTable      `yaml:"users"`
	PaymentSources []PaymentSource `yaml:"payment_sources"`
}

// UsersTable はユーザーテーブルのカラム対応。
// UsernameColumnが空の場合はメールアドレスでのみ照合する。
type UsersTable struct {
	Table          string `yaml:"table"`
	IDColumn       string `yaml:"id_column"`
	EmailColumn    string `yaml:"email_column"`
	UsernameColumn string `yaml:"username_column"`
	PasswordColumn string `yaml:"password_column"`
}

// PaymentSource は支払いレコードの取得元1つ分の定義。
// PaymentSourcesの並び順がそのまま問い合わせの優先順になる。
type PaymentSource struct {
	Name          string   `yaml:"name"`
	Table         string   `yaml:"table"`
	UserColumn    string   `yaml:"user_column"`
	UserKey       string   `yaml:"user_key"`
	PlanColumn    string   `yaml:"plan_column"`
	AmountColumn  string   `yaml:"amount_column"`
	StatusColumn  string   `yaml:"status_column"`
	StartColumn   string   `yaml:"start_column"`
	EndColumn     string   `yaml:"end_column"`
	CreatedColumn string   `yaml:"created_column"`
	Statuses      []string `yaml:"statuses"`
	OrderBy       string   `yaml:"order_by"`
	Disabled      bool     `yaml:"disabled"`
	// 履歴にだけ載せる任意カラム
	TransactionColumn   string `yaml:"transaction_column"`
	PaymentMethodColumn string `yaml:"payment_method_column"`
}

// DefaultSchema はレガシースキーマに合わせたデフォルトの対応表を返す。
func DefaultSchema() ExternalSchema {
	return ExternalSchema{
		Users: UsersTable{
			Table:          "users",
			IDColumn:       "id",
			EmailColumn:    "email",
			UsernameColumn: "user_id",
			PasswordColumn: "password",
		},
		PaymentSources: []PaymentSource{
			{
				Name:          "payments",
				Table:         "mock_interview_payments",
				UserColumn:    "user_id",
				UserKey:       UserKeyUsername,
				PlanColumn:    "plan_name",
				AmountColumn:  "amount",
				StatusColumn:  "status",
				StartColumn:   "start_date",
				EndColumn:     "end_date",
				CreatedColumn: "created_at",
				Statuses:      []string{"success"},
				OrderBy:       OrderCreatedDesc,

				TransactionColumn:   "transaction_id",
				PaymentMethodColumn: "payment_method",
			},
			{
				Name:          "subscriptions",
				Table:         "subscriptions",
				UserColumn:    "user_id",
				UserKey:       UserKeyID,
				PlanColumn:    "subscription_type",
				AmountColumn:  "amount",
				StatusColumn:  "status",
				StartColumn:   "start_date",
				EndColumn:     "end_date",
				CreatedColumn: "created_at",
				Statuses:      []string{"active", "success", "completed", "paid"},
				OrderBy:       OrderEndDesc,

				TransactionColumn:   "transaction_id",
				PaymentMethodColumn: "payment_method",
			},
		},
	}
}

// LoadSchema はYAMLファイルから対応表を読み込む。
// pathが空の場合はデフォルトを返す。ファイルに書かれていないusersの項目はデフォルト値を維持する。
func LoadSchema(path string) (ExternalSchema, error) {
	schema := DefaultSchema()
	if path == "" {
		return schema, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ExternalSchema{}, fmt.Errorf("config_error: failed to read schema file: %w", err)
	}

	if err := yaml.Unmarshal(data, &schema); err != nil {
		return ExternalSchema{}, fmt.Errorf("config_error: failed to parse schema file: %w", err)
	}

	return schema, nil
}

// Validate は対応表の必須項目を検証する。
func (s ExternalSchema) Validate() error {
	u := s.Users
	if u.Table == "" || u.IDColumn == "" || u.EmailColumn == "" || u.PasswordColumn == "" {
		return fmt.Errorf("config_error: users table mapping requires table, id_column, email_column and password_column")
	}

	if len(s.PaymentSources) == 0 {
		return fmt.Errorf("config_error: at least one payment source is required")
	}

	for i, src := range s.PaymentSources {
		if src.Name == "" || src.Table == "" || src.UserColumn == "" || src.StatusColumn == "" || src.CreatedColumn == "" {
			return fmt.Errorf("config_error: payment source #%d requires name, table, user_column, status_column and created_column", i)
		}
		switch src.UserKey {
		case UserKeyUsername, UserKeyID:
		default:
			return fmt.Errorf("config_error: payment source %q has unsupported user_key %q", src.Name, src.UserKey)
		}
		switch src.OrderBy {
		case OrderCreatedDesc:
		case OrderEndDesc:
			if src.EndColumn == "" {
				return fmt.Errorf("config_error: payment source %q orders by end date but has no end_column", src.Name)
			}
		default:
			return fmt.Errorf("config_error: payment source %q has unsupported order_by %q", src.Name, src.OrderBy)
		}
		if len(src.Statuses) == 0 {
			return fmt.Errorf("config_error: payment source %q has no accepted statuses", src.Name)
		}
	}

	return nil
}

// applySchemaEnvOverrides は個別の環境変数で対応表を上書きする。
// 既存デプロイが環境変数でテーブル名を差し替えていたため残している。
func applySchemaEnvOverrides(s *ExternalSchema) {
	s.Users.Table = getEnvString("IDENTITY_USERS_TABLE", s.Users.Table)
	s.Users.IDColumn = getEnvString("IDENTITY_ID_COLUMN", s.Users.IDColumn)
	s.Users.EmailColumn = getEnvString("IDENTITY_EMAIL_COLUMN", s.Users.EmailColumn)
	s.Users.UsernameColumn = getEnvString("IDENTITY_USERNAME_COLUMN", s.Users.UsernameColumn)
	s.Users.PasswordColumn = getEnvString("IDENTITY_PASSWORD_COLUMN", s.Users.PasswordColumn)

	for i := range s.PaymentSources {
		switch s.PaymentSources[i].Name {
		case "payments":
			s.PaymentSources[i].Table = getEnvString("PAYMENTS_TABLE", s.PaymentSources[i].Table)
		case "subscriptions":
			s.PaymentSources[i].Table = getEnvString("SUBSCRIPTIONS_TABLE", s.PaymentSources[i].Table)
		}
	}
}
