// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"guptaai/internal/middleware"
	"guptaai/internal/model"
	"guptaai/internal/service"
	"guptaai/pkg/log"

	"github.com/gin-gonic/gin"
)

// AuthHandler 负责注册、登录、刷新 token 和登出。
type AuthHandler struct {
	userService service.UserService
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(userService service.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// SignupRequest 定义了注册 API 的请求体结构。
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest 定义了登录 API 的请求体结构。
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserDTO 是返回给前端的用户信息，与前端的 {name, email} 结构一致。
type UserDTO struct {
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Role      string          `json:"role"`
	CreatedAt model.LocalTime `json:"createdAt"`
}

func toUserDTO(u *model.User) UserDTO {
	return UserDTO{Name: u.Name, Email: u.Email, Role: u.Role, CreatedAt: model.LocalTime(u.CreatedAt)}
}

// Signup 处理用户注册请求。
func (h *AuthHandler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Data tidak lengkap")
		return
	}

	res, err := h.userService.Signup(req.Name, req.Email, req.Password)
	if err != nil {
		log.Warnf("Signup: registration failed for '%s', error: %v", req.Email, err)
		h.authError(c, err)
		return
	}

	log.Infof("User '%s' registered successfully", res.User.Email)
	h.authOK(c, res)
}

// Login 处理用户登录请求。
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Data tidak lengkap")
		return
	}

	res, err := h.userService.Login(req.Email, req.Password)
	if err != nil {
		log.Warnf("Login: authentication failed for '%s', error: %v", req.Email, err)
		h.authError(c, err)
		return
	}

	log.Infof("User '%s' logged in successfully", res.User.Email)
	h.authOK(c, res)
}

func (h *AuthHandler) authOK(c *gin.Context, res *service.AuthResult) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"user":         toUserDTO(res.User),
			"token":        res.AccessToken,
			"refreshToken": res.RefreshToken,
		},
	})
}

// authError 把业务错误转换为前端可以直接展示的提示。
func (h *AuthHandler) authError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrMissingFields):
		fail(c, http.StatusBadRequest, "Data tidak lengkap")
	case errors.Is(err, service.ErrInvalidEmail):
		fail(c, http.StatusBadRequest, "Email tidak valid")
	case errors.Is(err, service.ErrAlreadyRegistered):
		fail(c, http.StatusConflict, "Email sudah terdaftar")
	case errors.Is(err, service.ErrUserNotFound):
		fail(c, http.StatusUnauthorized, "Akun tidak ditemukan")
	case errors.Is(err, service.ErrInvalidPassword):
		fail(c, http.StatusUnauthorized, "Password salah")
	default:
		log.Error("auth failed", err)
		fail(c, http.StatusInternalServerError, "Terjadi kesalahan, coba lagi")
	}
}

// RefreshTokenRequest 定义了刷新 token API 的请求体结构。
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshToken 处理刷新 token 的请求。
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "refreshToken wajib diisi")
		return
	}

	newAccessToken, newRefreshToken, err := h.userService.RefreshToken(req.RefreshToken)
	if err != nil {
		log.Warnf("RefreshToken: failed to refresh token, error: %v", err)
		fail(c, http.StatusUnauthorized, "Sesi berakhir, silakan login kembali")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"token":        newAccessToken,
			"refreshToken": newRefreshToken,
		},
	})
}

// Logout 处理用户登出逻辑，必须在 AuthMiddleware 之后使用。
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.userService.Logout(c.Request.Context(), middleware.BearerToken(c)); err != nil {
		log.Error("Logout: Failed to logout", err)
		fail(c, http.StatusInternalServerError, "Gagal logout")
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// Me 返回当前登录用户的信息。用户信息已经由 AuthMiddleware 注入到上下文中。
func (h *AuthHandler) Me(c *gin.Context) {
	userValue, ok := c.Get(middleware.ContextUser)
	user, _ := userValue.(*model.User)
	if !ok || user == nil {
		fail(c, http.StatusInternalServerError, "无法获取用户信息")
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": toUserDTO(user)})
}

// fail 以统一的结构返回错误，error 字段与原前端读取的字段一致。
func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "message": message, "error": message})
}
