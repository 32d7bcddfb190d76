// Package pipeline 定义了训练资料的处理流程：转换文本、写入镜像、切块入库。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"ragchat-go/internal/model"
	"ragchat-go/internal/repository"
	"ragchat-go/pkg/log"
	"ragchat-go/pkg/storage"
	"ragchat-go/pkg/tasks"
)

// ErrEmptyContent 表示转换后没有可用文本。
var ErrEmptyContent = errors.New("pipeline: converted content is empty")

// TextExtractor 把上传文件转换为纯文本，由 Tika 客户端实现。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// Indexer 把整篇文本切块、向量化并写入向量库，失败时可按文档撤销。
type Indexer interface {
	Upsert(ctx context.Context, documentID, text string) error
	Delete(ctx context.Context, documentIDs []string) error
}

// StatusStore 更新训练记录的状态。
type StatusStore interface {
	UpdateStatus(ctx context.Context, kind model.SourceKind, id string, status model.TrainingStatus, characterCount int) error
}

// Processor 封装了训练任务处理的所有依赖和逻辑。
type Processor struct {
	extractor TextExtractor
	uploads   storage.ObjectStore
	mirror    storage.MirrorStore
	indexer   Indexer
	status    StatusStore
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(extractor TextExtractor, uploads storage.ObjectStore, mirror storage.MirrorStore, indexer Indexer, status StatusStore) *Processor {
	return &Processor{
		extractor: extractor,
		uploads:   uploads,
		mirror:    mirror,
		indexer:   indexer,
		status:    status,
	}
}

// Process 处理一个训练任务。任何一步失败都会把记录标记为 failed，并撤销已写入的镜像和向量。
func (p *Processor) Process(ctx context.Context, task tasks.TrainingTask) error {
	log.Infof("[Processor] 开始处理训练任务, id: %s, kind: %s", task.ID, task.Kind)

	if err := p.status.UpdateStatus(ctx, task.Kind, task.ID, model.StatusProcessing, -1); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// 记录在排队期间被删除
			log.Warnf("[Processor] 训练记录已不存在, 跳过任务, id: %s", task.ID)
			return nil
		}
		return fmt.Errorf("mark processing: %w", err)
	}

	done, err := p.run(ctx, task)
	if err == nil {
		return nil
	}

	log.Errorf("[Processor] 训练任务失败, id: %s, error: %v", task.ID, err)
	if done.indexed {
		if delErr := p.indexer.Delete(ctx, []string{task.ID}); delErr != nil {
			log.Warnf("[Processor] 清理向量失败, id: %s, error: %v", task.ID, delErr)
		}
	}
	if done.mirrored {
		if rmErr := p.mirror.Remove(ctx, task.ID); rmErr != nil {
			log.Warnf("[Processor] 清理镜像文件失败, id: %s, error: %v", task.ID, rmErr)
		}
	}
	if stErr := p.status.UpdateStatus(ctx, task.Kind, task.ID, model.StatusFailed, -1); stErr != nil {
		log.Warnf("[Processor] 标记失败状态失败, id: %s, error: %v", task.ID, stErr)
	}
	return err
}

// written 记录 run 已经产生的副作用，失败时据此回滚。
type written struct {
	mirrored bool
	indexed  bool
}

// run 依次执行转换、镜像、入库。
func (p *Processor) run(ctx context.Context, task tasks.TrainingTask) (written, error) {
	var done written
	// 1. 转换为纯文本
	content, err := p.convert(ctx, task)
	if err != nil {
		return done, err
	}
	chars := utf8.RuneCountInString(content)
	log.Infof("[Processor] 步骤1: 文本转换完成, id: %s, 字符数: %d", task.ID, chars)

	// 2. 写入处理后的镜像文件
	if err := p.mirror.Write(ctx, task.ID, content); err != nil {
		return done, fmt.Errorf("write mirror: %w", err)
	}
	done.mirrored = true
	log.Infof("[Processor] 步骤2: 镜像文件已写入, id: %s", task.ID)

	// 3. 切块、向量化并写入向量库
	if err := p.indexer.Upsert(ctx, task.ID, content); err != nil {
		// Upsert 可能已写入部分块
		done.indexed = true
		return done, fmt.Errorf("index content: %w", err)
	}
	done.indexed = true
	log.Infof("[Processor] 步骤3: 向量入库完成, id: %s", task.ID)

	if err := p.status.UpdateStatus(ctx, task.Kind, task.ID, model.StatusCompleted, chars); err != nil {
		return done, fmt.Errorf("mark completed: %w", err)
	}
	log.Infof("[Processor] 训练任务完成, id: %s", task.ID)
	return done, nil
}

func (p *Processor) convert(ctx context.Context, task tasks.TrainingTask) (string, error) {
	var content string
	switch task.Kind {
	case model.SourceWebsite:
		content = task.Content
	case model.SourceDocument:
		obj, err := p.uploads.Open(ctx, task.FileName)
		if err != nil {
			return "", fmt.Errorf("open upload %s: %w", task.FileName, err)
		}
		defer obj.Close()
		content, err = p.extractor.ExtractText(ctx, obj, task.FileName)
		if err != nil {
			return "", fmt.Errorf("extract text: %w", err)
		}
	default:
		return "", fmt.Errorf("unknown training source kind %q", task.Kind)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	return content, nil
}

// InlineDispatcher 在当前请求内同步执行任务，不经过消息队列。
type InlineDispatcher struct {
	processor *Processor
}

func NewInlineDispatcher(processor *Processor) *InlineDispatcher {
	return &InlineDispatcher{processor: processor}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, task tasks.TrainingTask) error {
	return d.processor.Process(ctx, task)
}
