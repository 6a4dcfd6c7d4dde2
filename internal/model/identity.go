// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は外部IDストアに存在するユーザーを表す。
// コアは読み取りのみを行い、ログインフロー中は不変として扱う。
type Identity struct {
	ID             string // 外部ユーザーID（不透明な文字列）
	Email          string // 小文字に正規化済み
	Username       string // 表示用ユーザー名（任意）
	CredentialHash string // 保存済みパスワード（bcryptハッシュまたはレガシー平文）
}

// Summary はクライアントに返すIdentityの最小表現を返す。
// 認証情報は含めない。
func (i *Identity) Summary() IdentitySummary {
	return IdentitySummary{
		ID:       i.ID,
		Email:    i.Email,
		Username: i.Username,
	}
}

// IdentitySummary はクライアント向けのユーザー情報。
type IdentitySummary struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

// Session はユーザーのログインセッションを表す。
// 1つのIdentityにつき有効なセッションは最大1つ。
type Session struct {
	ID         string
	IdentityID string
	Email      string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Active     bool
}

// IsValidAt は指定時刻においてセッションが有効かどうかを返す。
func (s *Session) IsValidAt(now time.Time) bool {
	return s.Active && s.ExpiresAt.After(now)
}
