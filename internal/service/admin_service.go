// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"

	"ragchat-go/internal/model"
	"ragchat-go/internal/repository"
)

const maxPageSize = 100

// UserListResponse 定义了用户列表 API 的响应结构。
type UserListResponse struct {
	Content       []model.UserChatStats `json:"content"`
	TotalElements int64                 `json:"totalElements"`
	TotalPages    int                   `json:"totalPages"`
	Size          int                   `json:"size"`
	Number        int                   `json:"number"`
}

// AdminService 接口定义了管理后台的只读查询。
type AdminService interface {
	ListUsers(ctx context.Context, page, size int) (*UserListResponse, error)
	UserConversations(ctx context.Context, userID string) ([]model.ConversationStats, error)
	ConversationMessages(ctx context.Context, conversationID string) (*ConversationDetail, error)
}

// adminService 是 AdminService 接口的实现。
type adminService struct {
	userRepo         repository.UserRepository
	conversationRepo repository.ConversationRepository
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(userRepo repository.UserRepository, conversationRepo repository.ConversationRepository) AdminService {
	return &adminService{
		userRepo:         userRepo,
		conversationRepo: conversationRepo,
	}
}

// ListUsers 以分页的形式返回用户列表及其对话统计
func (s *adminService) ListUsers(ctx context.Context, page, size int) (*UserListResponse, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > maxPageSize {
		size = 20
	}
	offset := (page - 1) * size
	users, total, err := s.userRepo.FindWithPagination(ctx, offset, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}

	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	convCounts, msgCounts, err := s.conversationRepo.UserStats(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}

	content := make([]model.UserChatStats, 0, len(users))
	for _, u := range users {
		content = append(content, model.UserChatStats{
			ID:                u.ID,
			Email:             u.Email,
			Name:              u.Name,
			Role:              u.Role,
			ConversationCount: convCounts[u.ID],
			MessageCount:      msgCounts[u.ID],
			CreatedAt:         model.LocalTime(u.CreatedAt),
		})
	}

	totalPages := 0
	if total > 0 {
		totalPages = (int(total) + size - 1) / size
	}
	return &UserListResponse{
		Content:       content,
		TotalElements: total,
		TotalPages:    totalPages,
		Size:          size,
		Number:        page,
	}, nil
}

// UserConversations 返回某个用户的全部对话及消息数。
func (s *adminService) UserConversations(ctx context.Context, userID string) ([]model.ConversationStats, error) {
	if _, err := s.userRepo.FindByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: user", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	convs, err := s.conversationRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}

	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	counts, err := s.conversationRepo.CountMessages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}

	out := make([]model.ConversationStats, 0, len(convs))
	for _, c := range convs {
		out = append(out, model.ConversationStats{
			ID:           c.ID,
			Title:        c.Title,
			MessageCount: counts[c.ID],
			CreatedAt:    model.LocalTime(c.CreatedAt),
			UpdatedAt:    model.LocalTime(c.UpdatedAt),
		})
	}
	return out, nil
}

// ConversationMessages 返回任意对话的完整消息，不做归属校验。
func (s *adminService) ConversationMessages(ctx context.Context, conversationID string) (*ConversationDetail, error) {
	conv, err := s.conversationRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: conversation", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	messages, err := s.conversationRepo.ReadHistory(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	return &ConversationDetail{Conversation: conv, Messages: messages}, nil
}
