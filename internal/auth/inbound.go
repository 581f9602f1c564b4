package auth

import (
	"net/url"
	"strings"

	"github.com/hitoshi/clientportal/internal/model"
)

// Flow はコールバックリクエストが辿る認証フローの種別。
type Flow int

const (
	// FlowNone は認識できるパラメータがないことを表す。
	FlowNone Flow = iota
	// FlowOTP はtoken_hash + typeによるメールリンク検証。
	FlowOTP
	// FlowCode はPKCE認可コードの交換。
	FlowCode
)

// String はログ・メトリクス用のフロー名を返す。
func (f Flow) String() string {
	switch f {
	case FlowOTP:
		return "otp"
	case FlowCode:
		return "code"
	default:
		return "none"
	}
}

// InboundAuthRequest はIdPからのリダイレクトで受け取ったクエリパラメータ。
// 1リクエストの間だけ存在する。
type InboundAuthRequest struct {
	TokenHash string
	Type      model.FlowType
	Code      string
	Next      string
}

// ParseInbound はクエリパラメータからInboundAuthRequestを組み立てる。
func ParseInbound(q url.Values) InboundAuthRequest {
	return InboundAuthRequest{
		TokenHash: strings.TrimSpace(q.Get("token_hash")),
		Type:      model.FlowType(strings.TrimSpace(q.Get("type"))),
		Code:      strings.TrimSpace(q.Get("code")),
		Next:      q.Get("next"),
	}
}

// Classify はリクエストの処理フローを決定する。
// token_hashとtypeが揃っていればcodeの有無にかかわらずOTPを優先する。
func (r InboundAuthRequest) Classify() Flow {
	switch {
	case r.TokenHash != "" && r.Type != "":
		return FlowOTP
	case r.Code != "":
		return FlowCode
	default:
		return FlowNone
	}
}

// SafeNext はnextパラメータが同一オリジンの相対パスである場合にのみそれを返す。
// "//host" や "/\host" のようなプロトコル相対URL、スキームやホストを含む値は拒否する。
func SafeNext(next string) (string, bool) {
	if next == "" || !strings.HasPrefix(next, "/") {
		return "", false
	}
	if strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return "", false
	}

	u, err := url.Parse(next)
	if err != nil {
		return "", false
	}
	if u.Scheme != "" || u.Host != "" || u.User != nil {
		return "", false
	}
	return next, true
}
