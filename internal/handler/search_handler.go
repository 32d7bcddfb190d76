package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"ragchat-go/internal/service"
	"ragchat-go/pkg/log"
)

// SearchHandler 让管理员直接预览知识库检索结果。
type SearchHandler struct {
	retriever service.Retriever
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(retriever service.Retriever) *SearchHandler {
	return &SearchHandler{retriever: retriever}
}

// Search 用与对话相同的检索路径查询 q，返回命中的文本片段。
func (h *SearchHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	log.Infof("[SearchHandler] 收到检索请求, query: %s", query)
	if query == "" {
		badRequest(c, "无效的查询参数")
		return
	}
	topK, err := strconv.Atoi(c.DefaultQuery("topK", "5"))
	if err != nil || topK <= 0 {
		topK = 5
	}

	results, err := h.retriever.Query(c.Request.Context(), []string{query}, topK)
	if err != nil {
		respondError(c, "SearchHandler", err)
		return
	}

	log.Infof("[SearchHandler] 检索成功, query: '%s', 返回 %d 条结果", query, len(results))
	success(c, "success", results)
}
