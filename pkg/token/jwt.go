// Package token 提供了用于生成和验证 JSON Web Tokens (JWT) 的功能。
package token

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTManager 负责管理 JWT 的生成和验证。
type JWTManager struct {
	secretKey       []byte
	accessTokenDur  time.Duration
	refreshTokenDur time.Duration
}

// CustomClaims 是 JWT 中携带的用户信息。
type CustomClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(secret string, accessTokenExpireHours, refreshTokenExpireDays int) *JWTManager {
	return &JWTManager{
		secretKey:       []byte(secret),
		accessTokenDur:  time.Hour * time.Duration(accessTokenExpireHours),
		refreshTokenDur: time.Duration(refreshTokenExpireDays) * 24 * time.Hour,
	}
}

func (m *JWTManager) sign(userID, email, role string, dur time.Duration) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(dur)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// GenerateToken 生成 access token。
func (m *JWTManager) GenerateToken(userID, email, role string) (string, error) {
	return m.sign(userID, email, role, m.accessTokenDur)
}

// GenerateRefreshToken 生成有效期更长的 refresh token。
func (m *JWTManager) GenerateRefreshToken(userID, email, role string) (string, error) {
	return m.sign(userID, email, role, m.refreshTokenDur)
}

// VerifyToken 验证 token 字符串，有效时返回 CustomClaims。
func (m *JWTManager) VerifyToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// Blacklist 记录已注销的 token id，过期时间与 token 剩余有效期一致。
type Blacklist struct {
	rdb *redis.Client
}

func NewBlacklist(rdb *redis.Client) *Blacklist {
	return &Blacklist{rdb: rdb}
}

func blacklistKey(jti string) string {
	return "jwt:revoked:" + jti
}

// Revoke 注销 claims 对应的 token。
func (b *Blacklist) Revoke(ctx context.Context, claims *CustomClaims) error {
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if left := time.Until(claims.ExpiresAt.Time); left > 0 {
			ttl = left
		}
	}
	return b.rdb.Set(ctx, blacklistKey(claims.ID), 1, ttl).Err()
}

// IsRevoked 判断 token 是否已注销。
func (b *Blacklist) IsRevoked(ctx context.Context, claims *CustomClaims) (bool, error) {
	n, err := b.rdb.Exists(ctx, blacklistKey(claims.ID)).Result()
	return n > 0, err
}
