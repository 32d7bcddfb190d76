package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"ragchat-go/internal/model"
)

// ConversationRepository 定义了对话与消息的持久化操作。
type ConversationRepository interface {
	Create(ctx context.Context, conv *model.Conversation) error
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	ListByUser(ctx context.Context, userID string) ([]model.Conversation, error)
	RenameConversation(ctx context.Context, id, title string) error
	Delete(ctx context.Context, id string) error

	// AppendMessage 追加一条消息并刷新对话的 updated_at。
	AppendMessage(ctx context.Context, conversationID string, sender model.Sender, content string) (*model.Message, error)
	// ReadHistory 按时间顺序返回对话的全部消息。
	ReadHistory(ctx context.Context, conversationID string) ([]model.Message, error)

	CountMessages(ctx context.Context, conversationIDs []string) (map[string]int64, error)
	UserStats(ctx context.Context, userIDs []string) (conversations, messages map[string]int64, err error)
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(ctx context.Context, conv *model.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(conv).Error
}

func (r *conversationRepository) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error; err != nil {
		return nil, translate(err)
	}
	return &conv, nil
}

func (r *conversationRepository) ListByUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").Find(&convs).Error
	return convs, err
}

func (r *conversationRepository) RenameConversation(ctx context.Context, id, title string) error {
	res := r.db.WithContext(ctx).Model(&model.Conversation{}).Where("id = ?", id).Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete 在一个事务中先删除消息再删除对话。
func (r *conversationRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *conversationRepository) AppendMessage(ctx context.Context, conversationID string, sender model.Sender, content string) (*model.Message, error) {
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&model.Conversation{}).Where("id = ?", conversationID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *conversationRepository) ReadHistory(ctx context.Context, conversationID string) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("created_at ASC").Find(&msgs).Error
	return msgs, err
}

type countRow struct {
	Key   string
	Total int64
}

func (r *conversationRepository) CountMessages(ctx context.Context, conversationIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var rows []countRow
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Select("conversation_id AS `key`, COUNT(*) AS total").
		Where("conversation_id IN ?", conversationIDs).
		Group("conversation_id").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.Key] = row.Total
	}
	return out, nil
}

func (r *conversationRepository) UserStats(ctx context.Context, userIDs []string) (map[string]int64, map[string]int64, error) {
	convs := make(map[string]int64, len(userIDs))
	msgs := make(map[string]int64, len(userIDs))
	if len(userIDs) == 0 {
		return convs, msgs, nil
	}

	var rows []countRow
	err := r.db.WithContext(ctx).Model(&model.Conversation{}).
		Select("user_id AS `key`, COUNT(*) AS total").
		Where("user_id IN ?", userIDs).
		Group("user_id").Scan(&rows).Error
	if err != nil {
		return nil, nil, err
	}
	for _, row := range rows {
		convs[row.Key] = row.Total
	}

	rows = rows[:0]
	err = r.db.WithContext(ctx).Table("chat_messages AS m").
		Select("c.user_id AS `key`, COUNT(*) AS total").
		Joins("JOIN conversations AS c ON c.id = m.conversation_id").
		Where("c.user_id IN ?", userIDs).
		Group("c.user_id").Scan(&rows).Error
	if err != nil {
		return nil, nil, err
	}
	for _, row := range rows {
		msgs[row.Key] = row.Total
	}
	return convs, msgs, nil
}
