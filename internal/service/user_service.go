// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"ragchat-go/internal/model"
	"ragchat-go/internal/repository"
	"ragchat-go/pkg/hash"
	"ragchat-go/pkg/log"
	"ragchat-go/pkg/token"
)

const minPasswordLength = 8

// RegisterRequest 是注册请求。
type RegisterRequest struct {
	Name            string `json:"fullName"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// UpdateProfileRequest 是修改个人资料的请求，空字段表示不修改。
type UpdateProfileRequest struct {
	Name  *string `json:"fullName"`
	Email *string `json:"email"`
}

// Session 是登录或注册成功后返回的令牌与用户信息。
type Session struct {
	User         *model.User `json:"user"`
	AccessToken  string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
}

// TokenRevoker 注销 token 并查询注销状态。
type TokenRevoker interface {
	Revoke(ctx context.Context, claims *token.CustomClaims) error
	IsRevoked(ctx context.Context, claims *token.CustomClaims) (bool, error)
}

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Register(ctx context.Context, req RegisterRequest) (*Session, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	GetProfile(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*model.User, error)
	Logout(ctx context.Context, claims *token.CustomClaims) error
	RefreshToken(ctx context.Context, refreshToken string) (*Session, error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo    repository.UserRepository
	jwtManager  *token.JWTManager
	revoker     TokenRevoker
	adminEmails map[string]struct{}
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager, revoker TokenRevoker, adminEmails []string) UserService {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		admins[normalizeEmail(e)] = struct{}{}
	}
	return &userService{
		userRepo:    userRepo,
		jwtManager:  jwtManager,
		revoker:     revoker,
		adminEmails: admins,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// Register 处理用户注册的业务逻辑。
func (s *userService) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	email := normalizeEmail(req.Email)
	name := strings.TrimSpace(req.Name)

	// 1. 校验输入
	if !validEmail(email) {
		return nil, validation("email is invalid")
	}
	if name == "" {
		return nil, validation("full name is required")
	}
	if len(req.Password) < minPasswordLength {
		return nil, validation("password must be at least %d characters", minPasswordLength)
	}
	if req.Password != req.ConfirmPassword {
		return nil, validation("passwords do not match")
	}

	// 2. 检查邮箱是否已被注册
	_, err := s.userRepo.FindByEmail(ctx, email)
	if err == nil {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}

	// 3. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	role := model.RoleUser
	if _, ok := s.adminEmails[email]; ok {
		role = model.RoleAdmin
	}
	user := &model.User{
		ID:       uuid.NewString(),
		Email:    email,
		Name:     name,
		Password: hashedPassword,
		Role:     role,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		log.Errorf("[UserService] 创建用户失败, email: %s, error: %v", email, err)
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	log.Infof("[UserService] 新用户注册成功, id: %s, role: %s", user.ID, user.Role)

	return s.issue(user)
}

// Login 处理用户登录的业务逻辑。
func (s *userService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	if !hash.CheckPasswordHash(password, user.Password) {
		return nil, ErrUnauthorized
	}
	return s.issue(user)
}

func (s *userService) issue(user *model.User) (*Session, error) {
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Email, string(user.Role))
	if err != nil {
		return nil, err
	}
	return &Session{User: user, AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// GetProfile 根据用户 ID 获取用户详细信息。
func (s *userService) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: user", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	return user, nil
}

// UpdateProfile 修改姓名或邮箱，新邮箱不能与其他用户重复。
func (s *userService) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*model.User, error) {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		if !validEmail(email) {
			return nil, validation("email is invalid")
		}
		if email != user.Email {
			_, err := s.userRepo.FindByEmail(ctx, email)
			if err == nil {
				return nil, fmt.Errorf("%w: email already registered", ErrConflict)
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
			}
			user.Email = email
		}
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, validation("full name must not be empty")
		}
		user.Name = name
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	return user, nil
}

// Logout 把当前 token 加入 Redis 黑名单，剩余有效期作为过期时间。
func (s *userService) Logout(ctx context.Context, claims *token.CustomClaims) error {
	if claims == nil {
		return ErrUnauthorized
	}
	if err := s.revoker.Revoke(ctx, claims); err != nil {
		return fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	return nil
}

// RefreshToken 验证 refresh token 并签发新的 access token 和 refresh token。
func (s *userService) RefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.jwtManager.VerifyToken(refreshToken)
	if err != nil {
		return nil, ErrUnauthorized
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	if revoked {
		return nil, ErrUnauthorized
	}
	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	// 旧的 refresh token 只能使用一次
	if err := s.revoker.Revoke(ctx, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	return s.issue(user)
}
