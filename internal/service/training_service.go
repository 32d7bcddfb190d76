// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"ragchat-go/internal/model"
	"ragchat-go/internal/repository"
	"ragchat-go/pkg/crawler"
	"ragchat-go/pkg/log"
	"ragchat-go/pkg/storage"
	"ragchat-go/pkg/tasks"
	"ragchat-go/pkg/urlextract"
)

// SiteCrawler 抓取种子页面及其同站子页面。
type SiteCrawler interface {
	CrawlSite(ctx context.Context, seed string) ([]crawler.Page, error)
}

// TaskDispatcher 把训练任务交给处理流水线，Kafka producer 与 inline dispatcher 都实现了它。
type TaskDispatcher interface {
	Dispatch(ctx context.Context, task tasks.TrainingTask) error
}

// ChunkRemover 删除文档在向量库中的全部块。
type ChunkRemover interface {
	Delete(ctx context.Context, ids []string) error
}

// TrainDocRequest 引用一个已上传的文件。
type TrainDocRequest struct {
	FileName string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// WebsiteTree 是种子页面及其子页面。
type WebsiteTree struct {
	model.TrainingWebsite
	Children []model.TrainingWebsite `json:"children"`
}

// TrainingService 定义了知识库训练资料的管理操作。
type TrainingService interface {
	TrainDocument(ctx context.Context, req TrainDocRequest) (*model.TrainingDoc, error)
	CrawlWebsite(ctx context.Context, rawURL string) (*WebsiteTree, error)
	ListDocuments(ctx context.Context) ([]model.TrainingDoc, error)
	ListWebsites(ctx context.Context) ([]WebsiteTree, error)
	DeleteDocument(ctx context.Context, id string) error
	DeleteWebsite(ctx context.Context, id string) error
}

type trainingService struct {
	repo       repository.TrainingRepository
	uploads    storage.ObjectStore
	mirror     storage.MirrorStore
	chunks     ChunkRemover
	crawler    SiteCrawler
	dispatcher TaskDispatcher
}

// NewTrainingService 创建一个新的 TrainingService 实例。
func NewTrainingService(
	repo repository.TrainingRepository,
	uploads storage.ObjectStore,
	mirror storage.MirrorStore,
	chunks ChunkRemover,
	siteCrawler SiteCrawler,
	dispatcher TaskDispatcher,
) TrainingService {
	return &trainingService{
		repo:       repo,
		uploads:    uploads,
		mirror:     mirror,
		chunks:     chunks,
		crawler:    siteCrawler,
		dispatcher: dispatcher,
	}
}

// TrainDocument 为已上传的文件创建训练记录并派发处理任务。
func (s *trainingService) TrainDocument(ctx context.Context, req TrainDocRequest) (*model.TrainingDoc, error) {
	name := strings.TrimSpace(req.FileName)
	if name == "" || filepath.Base(name) != name {
		return nil, validation("filename is invalid")
	}

	size, err := s.uploads.Stat(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: uploaded file %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: stat upload: %v", ErrInfrastructure, err)
	}

	doc := &model.TrainingDoc{
		ID:       uuid.NewString(),
		FileName: name,
		MimeType: req.MimeType,
		Size:     size,
		Status:   model.StatusPending,
	}
	if err := s.repo.CreateDoc(ctx, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	log.Infof("[TrainingService] 文档训练记录已创建, id: %s, file: %s", doc.ID, name)

	task := tasks.TrainingTask{ID: doc.ID, Kind: model.SourceDocument, FileName: name}
	if err := s.dispatch(ctx, task); err != nil {
		return nil, err
	}
	return s.refreshDoc(ctx, doc), nil
}

// CrawlWebsite 抓取站点；只要有一个页面失败就不创建任何记录。
func (s *trainingService) CrawlWebsite(ctx context.Context, rawURL string) (*WebsiteTree, error) {
	seed := urlextract.Normalize(strings.TrimSpace(rawURL))
	u, err := url.Parse(seed)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, validation("url %q is invalid", rawURL)
	}

	pages, err := s.crawler.CrawlSite(ctx, seed)
	if err != nil {
		log.Warnf("[TrainingService] 站点抓取失败, url: %s, error: %v", seed, err)
		return nil, fmt.Errorf("%w: %v", ErrPartialCrawl, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no pages returned", ErrPartialCrawl)
	}

	records := make([]*model.TrainingWebsite, len(pages))
	for i, p := range pages {
		records[i] = &model.TrainingWebsite{
			ID:     uuid.NewString(),
			URL:    p.Link,
			Title:  p.Title,
			Status: model.StatusPending,
		}
		if i > 0 {
			parent := records[0].ID
			records[i].ParentID = &parent
		}
	}
	if err := s.repo.CreateWebsites(ctx, records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	log.Infof("[TrainingService] 站点抓取完成, url: %s, 页面数: %d", seed, len(records))

	var dispatchErrs []error
	for i, rec := range records {
		task := tasks.TrainingTask{ID: rec.ID, Kind: model.SourceWebsite, URL: rec.URL, Content: pages[i].Content}
		if err := s.dispatch(ctx, task); err != nil {
			dispatchErrs = append(dispatchErrs, err)
		}
	}
	if len(dispatchErrs) > 0 {
		return nil, errors.Join(dispatchErrs...)
	}

	tree := &WebsiteTree{TrainingWebsite: *s.refreshWebsite(ctx, records[0])}
	for _, rec := range records[1:] {
		tree.Children = append(tree.Children, *s.refreshWebsite(ctx, rec))
	}
	return tree, nil
}

// dispatch 派发任务；派发失败时记录会被标记为 failed。
func (s *trainingService) dispatch(ctx context.Context, task tasks.TrainingTask) error {
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		log.Errorf("[TrainingService] 派发训练任务失败, id: %s, error: %v", task.ID, err)
		if stErr := s.repo.UpdateStatus(ctx, task.Kind, task.ID, model.StatusFailed, -1); stErr != nil {
			log.Warnf("[TrainingService] 标记失败状态失败, id: %s, error: %v", task.ID, stErr)
		}
		return fmt.Errorf("%w: training task %s: %v", ErrInfrastructure, task.ID, err)
	}
	return nil
}

func (s *trainingService) refreshDoc(ctx context.Context, doc *model.TrainingDoc) *model.TrainingDoc {
	if latest, err := s.repo.FindDoc(ctx, doc.ID); err == nil {
		return latest
	}
	return doc
}

func (s *trainingService) refreshWebsite(ctx context.Context, page *model.TrainingWebsite) *model.TrainingWebsite {
	if latest, err := s.repo.FindWebsite(ctx, page.ID); err == nil {
		return latest
	}
	return page
}

func (s *trainingService) ListDocuments(ctx context.Context) ([]model.TrainingDoc, error) {
	docs, err := s.repo.ListDocs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	return docs, nil
}

func (s *trainingService) ListWebsites(ctx context.Context) ([]WebsiteTree, error) {
	seeds, err := s.repo.ListWebsites(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	out := make([]WebsiteTree, 0, len(seeds))
	for _, seed := range seeds {
		children, err := s.repo.ListChildren(ctx, seed.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
		}
		out = append(out, WebsiteTree{TrainingWebsite: seed, Children: children})
	}
	return out, nil
}

// DeleteDocument 删除记录、镜像与向量块；三步都会尝试，失败时合并返回。
func (s *trainingService) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.repo.FindDoc(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: training document", ErrNotFound)
		}
		return fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}

	var errs []error
	if err := s.repo.DeleteDoc(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		errs = append(errs, fmt.Errorf("delete record: %w", err))
	}
	errs = append(errs, s.cleanup(ctx, []string{id})...)
	return s.partial(id, errs)
}

// DeleteWebsite 删除页面；删除种子页面时一并删除其子页面。
func (s *trainingService) DeleteWebsite(ctx context.Context, id string) error {
	page, err := s.repo.FindWebsite(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: training website", ErrNotFound)
		}
		return fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}

	ids := []string{page.ID}
	if page.ParentID == nil {
		children, err := s.repo.ListChildren(ctx, page.ID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInfrastructure, err)
		}
		for _, c := range children {
			ids = append(ids, c.ID)
		}
	}

	var errs []error
	if err := s.repo.DeleteWebsites(ctx, ids); err != nil {
		errs = append(errs, fmt.Errorf("delete records: %w", err))
	}
	errs = append(errs, s.cleanup(ctx, ids)...)
	return s.partial(id, errs)
}

func (s *trainingService) cleanup(ctx context.Context, ids []string) []error {
	var errs []error
	for _, id := range ids {
		if err := s.mirror.Remove(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("remove mirror %s: %w", id, err))
		}
	}
	if err := s.chunks.Delete(ctx, ids); err != nil {
		errs = append(errs, fmt.Errorf("delete chunks: %w", err))
	}
	return errs
}

func (s *trainingService) partial(id string, errs []error) error {
	if len(errs) == 0 {
		log.Infof("[TrainingService] 训练资料已删除, id: %s", id)
		return nil
	}
	log.Errorf("[TrainingService] 训练资料删除不完整, id: %s, errors: %v", id, errs)
	return fmt.Errorf("%w: %w", ErrPartialCleanup, errors.Join(errs...))
}
