package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ragchat-go/internal/middleware"
	"ragchat-go/internal/service"
	"ragchat-go/pkg/log"
)

// UserHandler 负责处理当前登录用户的个人信息与登出。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// GetProfile 获取当前登录用户的个人信息。
// 用户信息已经由 AuthMiddleware 注入到上下文中。
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respond(c, http.StatusUnauthorized, "未认证用户", nil)
		return
	}
	success(c, "success", user)
}

// UpdateProfile 修改当前用户的姓名或邮箱。
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respond(c, http.StatusUnauthorized, "未认证用户", nil)
		return
	}
	var req service.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载")
		return
	}

	updated, err := h.userService.UpdateProfile(c.Request.Context(), user.ID, req)
	if err != nil {
		respondError(c, "UpdateProfile", err)
		return
	}
	success(c, "个人信息已更新", updated)
}

// Logout 把当前 token 加入黑名单并清除 cookie。
func (h *UserHandler) Logout(c *gin.Context) {
	claims, _ := middleware.CurrentClaims(c)
	if err := h.userService.Logout(c.Request.Context(), claims); err != nil {
		respondError(c, "Logout", err)
		return
	}

	c.SetCookie(middleware.TokenCookie, "", -1, "/", "", false, true)
	if user, ok := middleware.CurrentUser(c); ok {
		log.Infof("User '%s' logged out successfully", user.Email)
	}
	success(c, "登出成功", nil)
}
