package middleware

import (
	"regexp"
	"strings"
)

// staticExtPattern は認証判定の対象外とする静的ファイルの拡張子。
var staticExtPattern = regexp.MustCompile(`(?i)\.(svg|png|jpg|jpeg|gif|webp|ico|woff|woff2)$`)

// staticPrefixes はビルド成果物など認証判定の対象外とするパス。
var staticPrefixes = []string{
	"/static/",
	"/assets/",
	"/favicon.ico",
}

// IsStaticAsset はゲートキーパーが一切処理しない静的アセットのパスかどうかを返す。
func IsStaticAsset(path string) bool {
	for _, prefix := range staticPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return staticExtPattern.MatchString(path)
}
