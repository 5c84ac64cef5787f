// Package security はアプリケーションのセキュリティ機能を提供する。
//
// LabelSanitizer はクライアントから受け取ったアクティビティラベルを
// 保存前に正規化し、HTMLを一切含まないプレーンテキストにする。
package security

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxLabelLength はラベルの最大文字数（rune数）。
const MaxLabelLength = 200

// maxSanitizePasses を超えても安定しない入力は多重エスケープとみなして拒否する。
const maxSanitizePasses = 4

// LabelSanitizer はラベルのサニタイズ機能のインターフェース。
type LabelSanitizer interface {
	// Sanitize はHTMLタグと制御文字を除去し、前後の空白を取り除いたラベルを返す。
	// 結果が空、またはMaxLabelLengthを超える場合はokがfalseになる。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) (label string, ok bool)
}

// labelSanitizer はLabelSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type labelSanitizer struct {
	policy *bluemonday.Policy
}

// NewLabelSanitizer はLabelSanitizerの新しいインスタンスを生成する。
// タグを一切許可しないStrictPolicyを使用する。
func NewLabelSanitizer() LabelSanitizer {
	return &labelSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はラベルをプレーンテキストに正規化する。
func (s *labelSanitizer) Sanitize(raw string) (string, bool) {
	if !utf8.ValidString(raw) {
		raw = strings.ToValidUTF8(raw, "")
	}

	// 実体参照を戻した結果が再びタグになり得るため、変化しなくなるまで繰り返す
	label := raw
	for range maxSanitizePasses {
		next := s.pass(label)
		if next == label {
			if label == "" || utf8.RuneCountInString(label) > MaxLabelLength {
				return "", false
			}
			return label, true
		}
		label = next
	}
	return "", false
}

// pass はStrictPolicyを1回適用し、エスケープされたテキストを元に戻す。
func (s *labelSanitizer) pass(in string) string {
	out := html.UnescapeString(s.policy.Sanitize(stripControl(in)))
	return strings.TrimSpace(stripControl(out))
}

// stripControl は改行・タブを空白に置き換え、それ以外の制御文字を除去する。
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
}
