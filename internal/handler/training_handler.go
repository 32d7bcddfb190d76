// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ragchat-go/internal/service"
	"ragchat-go/pkg/log"
)

// TrainingHandler 负责管理员的知识库训练操作：登记文档、抓取网站、列表与删除。
type TrainingHandler struct {
	trainingService service.TrainingService
}

// NewTrainingHandler 创建一个新的 TrainingHandler 实例。
func NewTrainingHandler(trainingService service.TrainingService) *TrainingHandler {
	return &TrainingHandler{trainingService: trainingService}
}

// TrainDocument 把已上传的文件登记为训练文档并投递处理任务。
func (h *TrainingHandler) TrainDocument(c *gin.Context) {
	var req service.TrainDocRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FileName == "" {
		badRequest(c, "无效的请求负载：filename 不能为空")
		return
	}

	doc, err := h.trainingService.TrainDocument(c.Request.Context(), req)
	if err != nil {
		respondError(c, "TrainDocument", err)
		return
	}
	log.Infof("[TrainingHandler] 文档已进入处理队列, id: %s, file: %s", doc.ID, doc.FileName)
	respond(c, http.StatusAccepted, "文档已提交训练", doc)
}

// CrawlWebsiteRequest 是网站训练的请求体。
type CrawlWebsiteRequest struct {
	URL string `json:"url" binding:"required"`
}

// TrainWebsite 抓取站点并为每个页面投递处理任务。
func (h *TrainingHandler) TrainWebsite(c *gin.Context) {
	var req CrawlWebsiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载：url 不能为空")
		return
	}

	tree, err := h.trainingService.CrawlWebsite(c.Request.Context(), req.URL)
	if err != nil {
		respondError(c, "TrainWebsite", err)
		return
	}
	log.Infof("[TrainingHandler] 网站抓取完成, seed: %s, 子页面: %d", tree.URL, len(tree.Children))
	respond(c, http.StatusAccepted, "网站已提交训练", tree)
}

// ListDocuments 返回全部训练文档及其处理状态。
func (h *TrainingHandler) ListDocuments(c *gin.Context) {
	docs, err := h.trainingService.ListDocuments(c.Request.Context())
	if err != nil {
		respondError(c, "ListDocuments", err)
		return
	}
	success(c, "success", docs)
}

// ListWebsites 返回种子网站及其子页面。
func (h *TrainingHandler) ListWebsites(c *gin.Context) {
	sites, err := h.trainingService.ListWebsites(c.Request.Context())
	if err != nil {
		respondError(c, "ListWebsites", err)
		return
	}
	success(c, "success", sites)
}

// DeleteDocument 删除训练文档及其镜像文本和向量。
func (h *TrainingHandler) DeleteDocument(c *gin.Context) {
	if err := h.trainingService.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "DeleteDocument", err)
		return
	}
	success(c, "文档已删除", nil)
}

// DeleteWebsite 删除网站记录，种子页面会连同子页面一起删除。
func (h *TrainingHandler) DeleteWebsite(c *gin.Context) {
	if err := h.trainingService.DeleteWebsite(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "DeleteWebsite", err)
		return
	}
	success(c, "网站已删除", nil)
}
