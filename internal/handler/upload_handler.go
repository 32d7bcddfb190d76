// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ragchat-go/internal/service"
	"ragchat-go/pkg/log"
)

// UploadHandler 负责接收管理员上传的训练文件。
type UploadHandler struct {
	uploadService service.UploadService
	maxBytes      int64
}

// NewUploadHandler 创建一个新的 UploadHandler 实例，maxBytes <= 0 表示不限制大小。
func NewUploadHandler(uploadService service.UploadService, maxBytes int64) *UploadHandler {
	return &UploadHandler{uploadService: uploadService, maxBytes: maxBytes}
}

// Upload 处理 multipart 表单中的 file 字段，返回存储后的文件名。
func (h *UploadHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "缺少上传文件")
		return
	}
	if h.maxBytes > 0 && fileHeader.Size > h.maxBytes {
		respond(c, http.StatusRequestEntityTooLarge, "文件过大", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("Upload: failed to open multipart file", err)
		respond(c, http.StatusInternalServerError, "无法读取上传文件", nil)
		return
	}
	defer file.Close()

	res, err := h.uploadService.Store(c.Request.Context(), fileHeader.Filename, file, fileHeader.Size, fileHeader.Header.Get("Content-Type"))
	if err != nil {
		respondError(c, "Upload", err)
		return
	}

	log.Infof("[UploadHandler] 文件上传成功, file: %s, size: %d", res.FileName, res.Size)
	success(c, "上传成功", res)
}

// SupportedTypes 返回允许上传的文件扩展名。
func (h *UploadHandler) SupportedTypes(c *gin.Context) {
	success(c, "success", gin.H{"supportedExtensions": h.uploadService.SupportedFileTypes()})
}
