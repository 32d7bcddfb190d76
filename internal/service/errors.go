package service

import (
	"errors"
	"fmt"
)

// 业务错误分类，handler 通过 errors.Is 映射到 HTTP 状态码。
var (
	ErrValidation     = errors.New("invalid request")
	ErrNotFound       = errors.New("resource not found")
	ErrForbidden      = errors.New("access denied")
	ErrUnauthorized   = errors.New("invalid credentials")
	ErrConflict       = errors.New("resource already exists")
	ErrInfrastructure = errors.New("service temporarily unavailable")
	// ErrModelUnavailable 同时满足 errors.Is(err, ErrInfrastructure)。
	ErrModelUnavailable = fmt.Errorf("%w: language model unreachable", ErrInfrastructure)
	ErrPartialCrawl     = errors.New("website could not be crawled completely")
	ErrPartialCleanup   = errors.New("training record was only partially removed")
)

func validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
