// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ragchat-go/internal/middleware"
	"ragchat-go/internal/service"
	"ragchat-go/pkg/log"
)

// AuthHandler 负责处理注册、登录与刷新 token。
type AuthHandler struct {
	userService  service.UserService
	cookieMaxAge int
}

// NewAuthHandler 创建一个新的 AuthHandler 实例，cookieMaxAge 单位为秒。
func NewAuthHandler(userService service.UserService, cookieMaxAge int) *AuthHandler {
	return &AuthHandler{userService: userService, cookieMaxAge: cookieMaxAge}
}

// Register 处理用户注册请求，成功后直接返回登录态。
func (h *AuthHandler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Register: Invalid request payload, error: %v", err)
		badRequest(c, "无效的请求负载")
		return
	}

	sess, err := h.userService.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, "Register", err)
		return
	}

	log.Infof("User '%s' registered successfully", sess.User.Email)
	h.setCookie(c, sess.AccessToken)
	respond(c, http.StatusCreated, "User registered successfully", sess)
}

// LoginRequest 定义了用户登录 API 的请求体结构。
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 处理用户登录请求。
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		badRequest(c, "无效的请求负载：邮箱和密码不能为空")
		return
	}

	sess, err := h.userService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, "Login", err)
		return
	}

	log.Infof("User '%s' logged in successfully", sess.User.Email)
	h.setCookie(c, sess.AccessToken)
	success(c, "Login successful", sess)
}

// RefreshTokenRequest 定义了刷新 token API 的请求体结构。
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshToken 处理刷新 token 的请求，旧 refresh token 会被注销。
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("RefreshToken: Invalid request payload, error: %v", err)
		badRequest(c, "无效的请求负载：refreshToken 不能为空")
		return
	}

	sess, err := h.userService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, "RefreshToken", err)
		return
	}

	log.Info("Token refreshed successfully")
	h.setCookie(c, sess.AccessToken)
	success(c, "Token refreshed successfully", sess)
}

func (h *AuthHandler) setCookie(c *gin.Context, accessToken string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, accessToken, h.cookieMaxAge, "/", "", false, true)
}
