package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"ragchat-go/internal/model"
)

// TrainingRepository 管理上传文档与抓取页面的训练记录。
type TrainingRepository interface {
	CreateDoc(ctx context.Context, doc *model.TrainingDoc) error
	FindDoc(ctx context.Context, id string) (*model.TrainingDoc, error)
	ListDocs(ctx context.Context) ([]model.TrainingDoc, error)
	DeleteDoc(ctx context.Context, id string) error

	// CreateWebsites 在一个事务中写入种子页与子页面记录。
	CreateWebsites(ctx context.Context, pages []*model.TrainingWebsite) error
	FindWebsite(ctx context.Context, id string) (*model.TrainingWebsite, error)
	// ListWebsites 返回所有种子页面（parent_id 为空）。
	ListWebsites(ctx context.Context) ([]model.TrainingWebsite, error)
	ListChildren(ctx context.Context, parentID string) ([]model.TrainingWebsite, error)
	DeleteWebsites(ctx context.Context, ids []string) error

	// UpdateStatus 更新记录状态；characterCount < 0 时不修改字符数。
	UpdateStatus(ctx context.Context, kind model.SourceKind, id string, status model.TrainingStatus, characterCount int) error
}

type trainingRepository struct {
	db *gorm.DB
}

// NewTrainingRepository 创建一个新的 TrainingRepository 实例。
func NewTrainingRepository(db *gorm.DB) TrainingRepository {
	return &trainingRepository{db: db}
}

func (r *trainingRepository) CreateDoc(ctx context.Context, doc *model.TrainingDoc) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *trainingRepository) FindDoc(ctx context.Context, id string) (*model.TrainingDoc, error) {
	var doc model.TrainingDoc
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, translate(err)
	}
	return &doc, nil
}

func (r *trainingRepository) ListDocs(ctx context.Context) ([]model.TrainingDoc, error) {
	var docs []model.TrainingDoc
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&docs).Error
	return docs, err
}

func (r *trainingRepository) DeleteDoc(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.TrainingDoc{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *trainingRepository) CreateWebsites(ctx context.Context, pages []*model.TrainingWebsite) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range pages {
			if err := tx.Create(p).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *trainingRepository) FindWebsite(ctx context.Context, id string) (*model.TrainingWebsite, error) {
	var page model.TrainingWebsite
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&page).Error; err != nil {
		return nil, translate(err)
	}
	return &page, nil
}

func (r *trainingRepository) ListWebsites(ctx context.Context) ([]model.TrainingWebsite, error) {
	var pages []model.TrainingWebsite
	err := r.db.WithContext(ctx).Where("parent_id IS NULL").Order("created_at DESC").Find(&pages).Error
	return pages, err
}

func (r *trainingRepository) ListChildren(ctx context.Context, parentID string) ([]model.TrainingWebsite, error) {
	var pages []model.TrainingWebsite
	err := r.db.WithContext(ctx).Where("parent_id = ?", parentID).Order("created_at ASC").Find(&pages).Error
	return pages, err
}

func (r *trainingRepository) DeleteWebsites(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.TrainingWebsite{}).Error
}

func (r *trainingRepository) UpdateStatus(ctx context.Context, kind model.SourceKind, id string, status model.TrainingStatus, characterCount int) error {
	updates := map[string]interface{}{"status": status}
	if characterCount >= 0 {
		updates["character_count"] = characterCount
	}

	var target interface{}
	switch kind {
	case model.SourceDocument:
		target = &model.TrainingDoc{}
	case model.SourceWebsite:
		target = &model.TrainingWebsite{}
	default:
		return fmt.Errorf("unknown training source kind %q", kind)
	}
	res := r.db.WithContext(ctx).Model(target).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
