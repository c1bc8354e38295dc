package security

import "testing"

// TestTextSanitizer_Sanitize はタグ除去と空白除去を検証する。
func TestTextSanitizer_Sanitize(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"空文字列", "", ""},
		{"ハングルはそのまま", "강동훈", "강동훈"},
		{"前後の空白を除去", "  요가 \n", "요가"},
		{"scriptタグを内容ごと除去", `<script>alert(1)</script>수영`, "수영"},
		{"装飾タグは除去し本文を残す", "<b>러닝</b>", "러닝"},
		{"アンパサンドは元に戻す", "A & B", "A & B"},
		{"イベント属性付きタグ", `<img src=x onerror=alert(1)>등산`, "등산"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestTextSanitizer_Idempotent は同一入力に対して同一出力を返すことを検証する。
func TestTextSanitizer_Idempotent(t *testing.T) {
	sanitizer := NewTextSanitizer()
	input := "<i>바다수영</i>"
	first := sanitizer.Sanitize(input)
	if second := sanitizer.Sanitize(first); second != first {
		t.Errorf("Sanitize is not idempotent: %q -> %q", first, second)
	}
}

// TestTextSanitizer_ImplementsInterface はインターフェースを満たすことを検証する。
func TestTextSanitizer_ImplementsInterface(t *testing.T) {
	var _ TextSanitizer = NewTextSanitizer()
}

func TestClean(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name        string
		input       string
		want        string
		wantAltered bool
	}{
		{"プレーンテキスト", "러닝", "러닝", false},
		{"前後の空白のみ", "  러닝 ", "러닝", false},
		{"アンパサンド", "Tom & Jerry", "Tom & Jerry", false},
		{"タグ", "<b>러닝</b>", "러닝", true},
		{"タグとして解釈される不等号", "a<b", "a", true},
		{"空文字", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, altered := Clean(sanitizer, tt.input)
			if got != tt.want || altered != tt.wantAltered {
				t.Errorf("Clean(%q) = (%q, %v), want (%q, %v)", tt.input, got, altered, tt.want, tt.wantAltered)
			}
		})
	}
}
