// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ragchat-go/pkg/log"
	"ragchat-go/pkg/storage"
	"ragchat-go/pkg/tika"
)

// supportedExtensions 是可以交给 Tika 转换的文件类型。
var supportedExtensions = map[string]string{
	".pdf":  "PDF文档",
	".doc":  "Word文档",
	".docx": "Word文档",
	".xls":  "Excel表格",
	".xlsx": "Excel表格",
	".ppt":  "PowerPoint演示文稿",
	".pptx": "PowerPoint演示文稿",
	".txt":  "文本文件",
	".md":   "Markdown文档",
	".html": "网页文件",
	".csv":  "CSV表格",
}

// UploadResult 是上传成功后的文件信息，FileName 供后续训练请求引用。
type UploadResult struct {
	FileName string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// UploadService 接口定义了文件上传相关的业务操作。
type UploadService interface {
	Store(ctx context.Context, name string, r io.Reader, size int64, mimeType string) (*UploadResult, error)
	SupportedFileTypes() []string
}

type uploadService struct {
	objects storage.ObjectStore
	now     func() time.Time
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(objects storage.ObjectStore) UploadService {
	return &uploadService{objects: objects, now: time.Now}
}

// Store 校验文件类型后把原始文件写入对象存储，文件名追加时间戳避免覆盖。
func (s *uploadService) Store(ctx context.Context, name string, r io.Reader, size int64, mimeType string) (*UploadResult, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == "/" || base == "" {
		return nil, validation("file name is required")
	}
	ext := strings.ToLower(filepath.Ext(base))
	if _, ok := supportedExtensions[ext]; !ok {
		return nil, validation("unsupported file type %q", ext)
	}
	if size <= 0 {
		return nil, validation("file is empty")
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = tika.DetectMimeType(base)
	}

	stem := strings.ReplaceAll(strings.TrimSuffix(base, filepath.Ext(base)), " ", "_")
	stored := fmt.Sprintf("%s_%d%s", stem, s.now().Unix(), filepath.Ext(base))

	log.Infof("[UploadService] 开始上传文件, name: %s, stored: %s, size: %d", base, stored, size)
	if err := s.objects.Put(ctx, stored, r, size, mimeType); err != nil {
		log.Errorf("[UploadService] 上传文件到对象存储失败, name: %s, error: %v", stored, err)
		return nil, fmt.Errorf("%w: store upload: %v", ErrInfrastructure, err)
	}
	return &UploadResult{FileName: stored, Size: size, MimeType: mimeType}, nil
}

// SupportedFileTypes 返回允许上传的扩展名。
func (s *uploadService) SupportedFileTypes() []string {
	exts := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
