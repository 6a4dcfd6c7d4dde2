// Package security はアプリケーションのセキュリティ機能を提供する。
//
// LabelSanitizer は外部ストアから読んだ自由記述のプラン名などを
// クライアントに返す前に無害化する。
// bluemondayのStrictPolicyで全てのタグを除去し、テキストだけを残す。
package security

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxLabelRunes はクライアントに返すラベルの最大文字数。
const maxLabelRunes = 200

// LabelSanitizer は自由記述ラベルの無害化機能のインターフェース。
type LabelSanitizer interface {
	// Sanitize はタグを除去し、空白を詰めたテキストを返す。
	// 特殊文字はHTMLエスケープされた形で返る。
	// 空文字列の入力には空文字列を返す。
	Sanitize(label string) string
}

// labelSanitizer はLabelSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに使える。
type labelSanitizer struct {
	policy *bluemonday.Policy
}

// NewLabelSanitizer はLabelSanitizerの新しいインスタンスを生成する。
func NewLabelSanitizer() *labelSanitizer {
	return &labelSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はラベルを無害化する。
func (s *labelSanitizer) Sanitize(label string) string {
	if label == "" {
		return ""
	}

	cleaned := strings.Join(strings.Fields(s.policy.Sanitize(label)), " ")
	if utf8.RuneCountInString(cleaned) > maxLabelRunes {
		cleaned = string([]rune(cleaned)[:maxLabelRunes])
	}
	return cleaned
}
