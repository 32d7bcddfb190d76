// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"ragchat-go/internal/service"
)

// AdminHandler 负责处理管理员查看用户与对话的请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// ListUsers 分页返回用户及其对话、消息数量。
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	resp, err := h.adminService.ListUsers(c.Request.Context(), page, size)
	if err != nil {
		respondError(c, "ListUsers", err)
		return
	}
	success(c, "Get users successful", resp)
}

// UserConversations 返回指定用户的对话统计。
func (h *AdminHandler) UserConversations(c *gin.Context) {
	stats, err := h.adminService.UserConversations(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "UserConversations", err)
		return
	}
	success(c, "success", stats)
}

// ConversationMessages 返回任意对话的消息记录。
func (h *AdminHandler) ConversationMessages(c *gin.Context) {
	detail, err := h.adminService.ConversationMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "ConversationMessages", err)
		return
	}
	success(c, "success", detail)
}
