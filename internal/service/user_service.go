// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guptaai/internal/model"
	"guptaai/internal/repository"
	"guptaai/pkg/hash"
	"guptaai/pkg/log"
	"guptaai/pkg/token"

	"gorm.io/gorm"
)

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

var (
	ErrMissingFields     = errors.New("missing required fields")
	ErrInvalidEmail      = errors.New("invalid email")
	ErrAlreadyRegistered = errors.New("email already registered")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidPassword   = errors.New("invalid password")
	ErrInvalidToken      = errors.New("invalid token")
)

// AuthResult 是注册/登录成功后返回给前端的内容。
type AuthResult struct {
	User         *model.User
	AccessToken  string
	RefreshToken string
}

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Signup(name, email, password string) (*AuthResult, error)
	Login(email, password string) (*AuthResult, error)
	GetProfile(email string) (*model.User, error)
	Logout(ctx context.Context, tokenString string) error
	RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo    repository.UserRepository
	blacklist   repository.TokenBlacklistRepository
	jwtManager  *token.JWTManager
	adminEmails map[string]struct{}
}

// NewUserService 创建一个新的 UserService 实例。adminEmails 中的邮箱注册后获得 ADMIN 角色。
func NewUserService(userRepo repository.UserRepository, blacklist repository.TokenBlacklistRepository, jwtManager *token.JWTManager, adminEmails []string) UserService {
	admins := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		admins[model.NormalizeIdentity(e)] = struct{}{}
	}
	return &userService{
		userRepo:    userRepo,
		blacklist:   blacklist,
		jwtManager:  jwtManager,
		adminEmails: admins,
	}
}

// Signup 处理用户注册的业务逻辑。
func (s *userService) Signup(name, email, password string) (*AuthResult, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(email) == "" || password == "" {
		return nil, ErrMissingFields
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	// 1. 检查邮箱是否已注册
	_, err = s.userRepo.FindByEmail(email)
	if err == nil {
		return nil, ErrAlreadyRegistered
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	role := RoleUser
	if _, ok := s.adminEmails[email]; ok {
		role = RoleAdmin
	}
	newUser := &model.User{Name: name, Email: email, Password: hashedPassword, Role: role}
	if err := s.userRepo.Create(newUser); err != nil {
		return nil, fmt.Errorf("创建用户失败: %w", err)
	}
	log.Infow("[UserService] 新用户注册", "email", email, "role", role)

	return s.issue(newUser)
}

// Login 处理用户登录的业务逻辑。
func (s *userService) Login(email, password string) (*AuthResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, ErrMissingFields
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	// 1. 查找用户
	user, err := s.userRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	// 2. 验证密码
	if !hash.CheckPasswordHash(password, user.Password) {
		return nil, ErrInvalidPassword
	}

	return s.issue(user)
}

// issue 生成 access token 和 refresh token
func (s *userService) issue(user *model.User) (*AuthResult, error) {
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Name, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Name, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// GetProfile 根据邮箱获取用户详细信息。
func (s *userService) GetProfile(email string) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(model.NormalizeIdentity(email))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// Logout 处理用户登出逻辑，将 token 加入 Redis 黑名单。
// token 的剩余有效期将作为 Redis key 的过期时间。
func (s *userService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return ErrInvalidToken
	}
	return s.blacklist.Add(ctx, tokenString, time.Until(claims.ExpiresAt.Time))
}

// RefreshToken 验证 refresh token 并签发新的 access token 和 refresh token。
func (s *userService) RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error) {
	// 1. 验证 refresh token 是否有效
	claims, err := s.jwtManager.VerifyRefreshToken(refreshTokenString)
	if err != nil {
		return "", "", ErrInvalidToken
	}

	// 2. 检查用户是否存在
	user, err := s.userRepo.FindByEmail(claims.Email)
	if err != nil {
		return "", "", ErrUserNotFound
	}

	// 3. 签发新的 token
	res, err := s.issue(user)
	if err != nil {
		return "", "", err
	}
	return res.AccessToken, res.RefreshToken, nil
}

// reservedEmailChars 会被当作缓存 key 的分隔符或 Redis 通配符，不允许出现在邮箱里。
const reservedEmailChars = "*?[]\\:# \t\r\n"

func normalizeEmail(email string) (string, error) {
	email = model.NormalizeIdentity(email)
	if model.IsGuest(email) || strings.Count(email, "@") != 1 || strings.ContainsAny(email, reservedEmailChars) {
		return "", ErrInvalidEmail
	}
	return email, nil
}
