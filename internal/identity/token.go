package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidAccessToken はアクセストークンの署名または形式が不正な場合のエラー。
var ErrInvalidAccessToken = errors.New("invalid access token")

// accessClaims はIdPが発行するアクセストークンのクレーム。
type accessClaims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
}

// parseAccessToken はアクセストークンのクレームを取り出す。
// secretが空の場合は署名を検証しない（IdPのGET /userで検証する）。
// 有効期限の判定は呼び出し側で行うため、ここではクレーム検証を行わない。
func parseAccessToken(token string, secret []byte) (*accessClaims, error) {
	claims := &accessClaims{}

	if len(secret) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
		}
		return claims, nil
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

// tokenExpiry はアクセストークンのexpクレーム（Unix秒）を返す。取得できない場合は0。
func tokenExpiry(token string, secret []byte) int64 {
	claims, err := parseAccessToken(token, secret)
	if err != nil || claims.ExpiresAt == nil {
		return 0
	}
	return claims.ExpiresAt.Unix()
}
