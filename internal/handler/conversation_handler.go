// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ragchat-go/internal/middleware"
	"ragchat-go/internal/service"
)

// ConversationHandler 处理对话列表、详情、重命名与删除。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// GetConversations 返回当前用户的对话列表，按更新时间倒序。
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respond(c, http.StatusUnauthorized, "未认证用户", nil)
		return
	}

	list, err := h.service.List(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, "GetConversations", err)
		return
	}
	success(c, "success", list)
}

// GetConversation 返回单个对话及其全部消息。
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respond(c, http.StatusUnauthorized, "未认证用户", nil)
		return
	}

	detail, err := h.service.Get(c.Request.Context(), user.ID, c.Param("conversationId"))
	if err != nil {
		respondError(c, "GetConversation", err)
		return
	}
	success(c, "success", detail)
}

// RenameRequest 是重命名对话的请求体。
type RenameRequest struct {
	Title string `json:"title" binding:"required"`
}

// RenameConversation 修改对话标题。
func (h *ConversationHandler) RenameConversation(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respond(c, http.StatusUnauthorized, "未认证用户", nil)
		return
	}
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载：title 不能为空")
		return
	}

	conv, err := h.service.Rename(c.Request.Context(), user.ID, c.Param("conversationId"), req.Title)
	if err != nil {
		respondError(c, "RenameConversation", err)
		return
	}
	success(c, "对话已重命名", conv)
}

// DeleteConversation 删除对话及其消息。
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respond(c, http.StatusUnauthorized, "未认证用户", nil)
		return
	}

	if err := h.service.Delete(c.Request.Context(), user.ID, c.Param("conversationId")); err != nil {
		respondError(c, "DeleteConversation", err)
		return
	}
	success(c, "对话已删除", nil)
}
