// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ragchat-go/internal/service"
	"ragchat-go/pkg/log"
)

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

func success(c *gin.Context, message string, data interface{}) {
	respond(c, http.StatusOK, message, data)
}

func badRequest(c *gin.Context, message string) {
	respond(c, http.StatusBadRequest, message, nil)
}

// statusFor 把业务错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidID):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrPartialCrawl):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrInfrastructure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError 写出错误响应；5xx 的细节只记录日志，不返回给客户端。
func respondError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		log.Errorf("[%s] 请求失败: %v", op, err)
		message = http.StatusText(status)
		if errors.Is(err, service.ErrModelUnavailable) {
			message = "AI服务暂时不可用，请稍后重试"
		}
	} else {
		log.Warnf("[%s] 请求被拒绝: %v", op, err)
	}
	respond(c, status, message, nil)
}
