package security

import (
	"strings"
	"testing"
)

// TestSanitize_Labels はラベルの正規化結果を検証する。
func TestSanitize_Labels(t *testing.T) {
	sanitizer := NewLabelSanitizer()

	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{name: "プレーンテキストはそのまま", input: "view:dashboard", want: "view:dashboard", wantOK: true},
		{name: "前後の空白を除去", input: "  login \n", want: "login", wantOK: true},
		{name: "日本語を保持", input: "ページ閲覧", want: "ページ閲覧", wantOK: true},
		{name: "scriptタグを除去", input: `<script>alert(1)</script>clicked`, want: "clicked", wantOK: true},
		{name: "インラインタグを除去", input: `<b>opened</b> <i>tab</i>`, want: "opened tab", wantOK: true},
		{name: "制御文字を除去", input: "a\x00b\x07c", want: "abc", wantOK: true},
		{name: "アンパサンドを保持", input: "save & exit", want: "save & exit", wantOK: true},
		{name: "空文字は不正", input: "", wantOK: false},
		{name: "空白のみは不正", input: "   \t", wantOK: false},
		{name: "タグのみは不正", input: "<img src=x onerror=alert(1)>", wantOK: false},
		{name: "エスケープ済みscriptはタグに戻さない", input: "&lt;script&gt;alert(1)&lt;/script&gt;", wantOK: false},
		{name: "二重エスケープのscriptも除去", input: "&amp;lt;script&amp;gt;x&amp;lt;/script&amp;gt;", wantOK: false},
		{name: "エスケープ済みインラインタグは本文のみ", input: "&lt;b&gt;bold&lt;/b&gt;", want: "bold", wantOK: true},
		{name: "200文字ちょうどは許可", input: strings.Repeat("あ", MaxLabelLength), want: strings.Repeat("あ", MaxLabelLength), wantOK: true},
		{name: "201文字は不正", input: strings.Repeat("a", MaxLabelLength+1), wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sanitizer.Sanitize(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("Sanitize(%q) ok = %v, want %v (got %q)", tt.input, ok, tt.wantOK, got)
			}
			if ok && got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitize_Idempotent は同一入力に対して同一出力を返すことを検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewLabelSanitizer()
	input := `<p>export &amp; share</p>`

	first, ok := sanitizer.Sanitize(input)
	if !ok {
		t.Fatal("expected ok")
	}
	second, ok := sanitizer.Sanitize(first)
	if !ok {
		t.Fatal("expected ok on second pass")
	}
	if first != second {
		t.Errorf("not idempotent: %q then %q", first, second)
	}
}

// TestSanitize_OutputIsStable はサニタイズ結果を再度通しても変化せず、タグを含まないことを検証する。
func TestSanitize_OutputIsStable(t *testing.T) {
	sanitizer := NewLabelSanitizer()

	inputs := []string{
		"&lt;b&gt;bold&lt;/b&gt; text",
		"&lt;img src=x onerror=alert(1)&gt;caption",
		"<p>export &amp; share</p>",
		"&amp;amp;",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			first, ok := sanitizer.Sanitize(input)
			if !ok {
				t.Fatalf("Sanitize(%q) ok = false", input)
			}
			if strings.ContainsAny(first, "<>") {
				t.Errorf("Sanitize(%q) = %q, must not contain markup", input, first)
			}
			second, ok := sanitizer.Sanitize(first)
			if !ok || second != first {
				t.Errorf("Sanitize(%q) = %q, %v, want %q, true", first, second, ok, first)
			}
		})
	}
}
