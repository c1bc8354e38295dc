// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザー名や運動種目名などの短いテキスト入力から
// HTMLマークアップを除去する。bluemondayのStrictPolicyを使用する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト入力のサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize は全てのタグを除去し、前後の空白を取り除いたプレーンテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使用する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去したプレーンテキストを返す。
// bluemondayがエスケープした文字参照は元の文字に戻す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.TrimSpace(cleaned)
}

// Clean はrawをサニタイズした結果と、前後の空白以外に除去された内容があったかを返す。
// 名前のように書き換えてはならない入力では、alteredがtrueなら拒否すること。
func Clean(s TextSanitizer, raw string) (clean string, altered bool) {
	clean = s.Sanitize(raw)
	return clean, clean != strings.TrimSpace(raw)
}
