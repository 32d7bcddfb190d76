// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"ragchat-go/internal/model"
	"ragchat-go/internal/repository"
	"ragchat-go/pkg/log"
)

// ErrInvalidID 表示路径中的对话 ID 不是合法的 UUID。
var ErrInvalidID = fmt.Errorf("%w: invalid conversation id", ErrValidation)

// ConversationDetail 是对话及其全部消息。
type ConversationDetail struct {
	Conversation *model.Conversation `json:"conversation"`
	Messages     []model.Message     `json:"messages"`
}

// ConversationService 定义了对话业务逻辑的接口。
type ConversationService interface {
	// Start 以占位标题创建对话并写入第一条用户消息。
	Start(ctx context.Context, userID, message string) (*model.Conversation, error)
	// Continue 校验归属后向已有对话追加一条用户消息。
	Continue(ctx context.Context, userID, conversationID, message string) (*model.Conversation, error)
	List(ctx context.Context, userID string) ([]model.Conversation, error)
	Get(ctx context.Context, userID, conversationID string) (*ConversationDetail, error)
	Rename(ctx context.Context, userID, conversationID, title string) (*model.Conversation, error)
	Delete(ctx context.Context, userID, conversationID string) error
}

type conversationService struct {
	repo             repository.ConversationRepository
	placeholderTitle string
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository, placeholderTitle string) ConversationService {
	if placeholderTitle == "" {
		placeholderTitle = "New Chat"
	}
	return &conversationService{repo: repo, placeholderTitle: placeholderTitle}
}

func (s *conversationService) Start(ctx context.Context, userID, message string) (*model.Conversation, error) {
	if strings.TrimSpace(message) == "" {
		return nil, validation("message must not be empty")
	}

	conv := &model.Conversation{UserID: userID, Title: s.placeholderTitle}
	if err := s.repo.Create(ctx, conv); err != nil {
		log.Errorf("[ConversationService] 创建对话失败, user: %s, error: %v", userID, err)
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	if _, err := s.repo.AppendMessage(ctx, conv.ID, model.SenderUser, message); err != nil {
		log.Errorf("[ConversationService] 写入用户消息失败, conversation: %s, error: %v", conv.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	log.Infof("[ConversationService] 新对话已创建, conversation: %s, user: %s", conv.ID, userID)
	return conv, nil
}

func (s *conversationService) Continue(ctx context.Context, userID, conversationID, message string) (*model.Conversation, error) {
	if strings.TrimSpace(message) == "" {
		return nil, validation("message must not be empty")
	}
	conv, err := s.owned(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.AppendMessage(ctx, conv.ID, model.SenderUser, message); err != nil {
		log.Errorf("[ConversationService] 写入用户消息失败, conversation: %s, error: %v", conv.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	return conv, nil
}

func (s *conversationService) List(ctx context.Context, userID string) ([]model.Conversation, error) {
	convs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	return convs, nil
}

func (s *conversationService) Get(ctx context.Context, userID, conversationID string) (*ConversationDetail, error) {
	conv, err := s.owned(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	messages, err := s.repo.ReadHistory(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	return &ConversationDetail{Conversation: conv, Messages: messages}, nil
}

func (s *conversationService) Rename(ctx context.Context, userID, conversationID, title string) (*model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validation("title must not be empty")
	}
	conv, err := s.owned(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.RenameConversation(ctx, conv.ID, title); err != nil {
		return nil, s.translate(err)
	}
	conv.Title = title
	return conv, nil
}

func (s *conversationService) Delete(ctx context.Context, userID, conversationID string) error {
	conv, err := s.owned(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, conv.ID); err != nil {
		return s.translate(err)
	}
	log.Infof("[ConversationService] 对话已删除, conversation: %s", conv.ID)
	return nil
}

// owned 查找对话并确认其属于 userID。
func (s *conversationService) owned(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return nil, ErrInvalidID
	}
	conv, err := s.repo.FindByID(ctx, conversationID)
	if err != nil {
		return nil, s.translate(err)
	}
	if conv.UserID != userID {
		log.Warnf("[ConversationService] 用户 %s 尝试访问不属于自己的对话 %s", userID, conversationID)
		return nil, fmt.Errorf("%w: conversation belongs to another user", ErrForbidden)
	}
	return conv, nil
}

func (s *conversationService) translate(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: conversation", ErrNotFound)
	}
	return fmt.Errorf("%w: %v", ErrInfrastructure, err)
}
