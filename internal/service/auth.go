package service

import (
	"context"

	mediaErrors "media-dispatch-service/internal/errors"

	"github.com/go-kratos/kratos/v2/middleware/auth/jwt"
	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Claims 访问令牌中的声明，user_id 为调用者
type Claims struct {
	UserID int64 `json:"user_id"`
	jwtv5.RegisteredClaims
}

// NewClaims 供 jwt 中间件解析令牌
func NewClaims() jwtv5.Claims {
	return &Claims{}
}

// CurrentUserID 从 context 中取出调用者 id
func CurrentUserID(ctx context.Context) (int64, error) {
	claims, ok := jwt.FromContext(ctx)
	if !ok {
		return 0, mediaErrors.Unauthenticated("authentication credentials were not provided")
	}
	c, ok := claims.(*Claims)
	if !ok || c.UserID <= 0 {
		return 0, mediaErrors.Unauthenticated("token has no user_id claim")
	}
	return c.UserID, nil
}
