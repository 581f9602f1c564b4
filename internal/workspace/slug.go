package workspace

import (
	"crypto/rand"
	"regexp"
	"strings"
)

const (
	slugSuffixLength = 5
	slugAlphabet     = "abcdefghijklmnopqrstuvwxyz0123456789"
)

var (
	slugStripPattern     = regexp.MustCompile(`[^\w\s-]`)
	slugSeparatorPattern = regexp.MustCompile(`[\s_-]+`)
)

// Slugify はワークスペース名をURL向けの小文字ハイフン区切りに変換する。
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugStripPattern.ReplaceAllString(s, "")
	s = slugSeparatorPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// NewSlug はSlugifyの結果にランダムな5文字の接尾辞を付けたスラッグを返す。
// 名前が記号のみでスラッグが空になる場合は接尾辞のみとなる。
func NewSlug(name string) (string, error) {
	suffix, err := randomSuffix()
	if err != nil {
		return "", err
	}
	base := Slugify(name)
	if base == "" {
		return suffix, nil
	}
	return base + "-" + suffix, nil
}

func randomSuffix() (string, error) {
	b := make([]byte, slugSuffixLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = slugAlphabet[int(b[i])%len(slugAlphabet)]
	}
	return string(b), nil
}
