package security

import (
	"strings"
	"testing"
)

// TestSanitize_AllowedTags は許可タグが正しく通過することを検証する。
func TestSanitize_AllowedTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name         string
		input        string
		wantContains []string
	}{
		{
			name:         "pタグが許可される",
			input:        "<p>修正をお願いします</p>",
			wantContains: []string{"<p>修正をお願いします</p>"},
		},
		{
			name:         "brタグが許可される",
			input:        "行1<br>行2",
			wantContains: []string{"<br", "行1", "行2"},
		},
		{
			name:         "httpsのaタグが許可される",
			input:        `<a href="https://example.com/brief">資料</a>`,
			wantContains: []string{"<a", `href="https://example.com/brief"`, "資料", "</a>"},
		},
		{
			name:         "mailtoのaタグが許可される",
			input:        `<a href="mailto:pm@example.com">担当</a>`,
			wantContains: []string{`href="mailto:pm@example.com"`},
		},
		{
			name:         "リストが許可される",
			input:        "<ul><li>ロゴ</li><li>配色</li></ul>",
			wantContains: []string{"<ul>", "<li>ロゴ</li>", "<li>配色</li>", "</ul>"},
		},
		{
			name:         "preとcodeが許可される",
			input:        "<pre><code>#ff6600</code></pre>",
			wantContains: []string{"<pre><code>#ff6600</code></pre>"},
		},
		{
			name:         "strongとemが許可される",
			input:        "<strong>至急</strong><em>確認</em>",
			wantContains: []string{"<strong>至急</strong>", "<em>確認</em>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, expected to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

// TestSanitize_RemovesDangerousContent は危険なタグと属性が除去されることを検証する。
func TestSanitize_RemovesDangerousContent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name           string
		input          string
		wantNotContain []string
	}{
		{"scriptタグ", `<p>ok</p><script>alert(1)</script>`, []string{"<script", "alert(1)"}},
		{"iframeタグ", `<iframe src="https://evil.example.com"></iframe>`, []string{"<iframe"}},
		{"styleタグ", `<style>body{display:none}</style>`, []string{"<style", "display:none"}},
		{"imgタグ", `<img src="https://example.com/a.png">`, []string{"<img"}},
		{"onclick属性", `<p onclick="alert(1)">x</p>`, []string{"onclick"}},
		{"javascriptスキーム", `<a href="javascript:alert(1)">x</a>`, []string{"javascript:"}},
		{"httpスキーム", `<a href="http://example.com">x</a>`, []string{"http://example.com"}},
		{"相対URL", `<a href="/dashboard">x</a>`, []string{`href="/dashboard"`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, bad := range tt.wantNotContain {
				if strings.Contains(got, bad) {
					t.Errorf("Sanitize(%q) = %q, must not contain %q", tt.input, got, bad)
				}
			}
		})
	}
}

// TestSanitize_LinksGetTargetAndRel は外部リンクにtargetとrelが付与されることを検証する。
func TestSanitize_LinksGetTargetAndRel(t *testing.T) {
	sanitizer := NewContentSanitizer()
	got := sanitizer.Sanitize(`<a href="https://example.com">x</a>`)

	for _, want := range []string{`target="_blank"`, "noopener", "noreferrer"} {
		if !strings.Contains(got, want) {
			t.Errorf("Sanitize() = %q, expected to contain %q", got, want)
		}
	}
}

// TestSanitize_PlainTextAndWhitespace はプレーンテキストがそのまま残り、前後の空白が除かれることを検証する。
func TestSanitize_PlainTextAndWhitespace(t *testing.T) {
	sanitizer := NewContentSanitizer()

	if got := sanitizer.Sanitize("  LGTMです  "); got != "LGTMです" {
		t.Errorf("Sanitize() = %q, want %q", got, "LGTMです")
	}
	if got := sanitizer.Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, want empty", got)
	}
	if got := sanitizer.Sanitize("<script>x</script>"); got != "" {
		t.Errorf("Sanitize(script only) = %q, want empty", got)
	}
}

// TestSanitize_Deterministic は同一入力に対して同一出力を返すことを検証する。
func TestSanitize_Deterministic(t *testing.T) {
	sanitizer := NewContentSanitizer()
	input := `<p>確認<a href="https://example.com">こちら</a></p><script>x</script>`

	first := sanitizer.Sanitize(input)
	second := sanitizer.Sanitize(input)
	if first != second {
		t.Errorf("not deterministic: %q != %q", first, second)
	}
}
