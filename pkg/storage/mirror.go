package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
)

// MirrorStore 保存每条训练记录转换后的文本（<id>.md），供人工查看与重建索引。
type MirrorStore interface {
	Write(ctx context.Context, id, content string) error
	Read(ctx context.Context, id string) (string, error)
	// Remove 删除镜像，不存在时返回 nil。
	Remove(ctx context.Context, id string) error
}

func mirrorName(id string) string {
	return id + ".md"
}

// MinIOMirror 把镜像写入 bucket/prefix/<id>.md。
type MinIOMirror struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinIOMirror(client *minio.Client, bucket, prefix string) *MinIOMirror {
	return &MinIOMirror{client: client, bucket: bucket, prefix: prefix}
}

func (m *MinIOMirror) Write(ctx context.Context, id, content string) error {
	_, err := m.client.PutObject(ctx, m.bucket, m.prefix+mirrorName(id), strings.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "text/markdown; charset=utf-8"})
	return err
}

func (m *MinIOMirror) Read(ctx context.Context, id string) (string, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.prefix+mirrorName(id), minio.GetObjectOptions{})
	if err != nil {
		return "", err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return "", ErrObjectNotFound
		}
		return "", err
	}
	return string(data), nil
}

func (m *MinIOMirror) Remove(ctx context.Context, id string) error {
	err := m.client.RemoveObject(ctx, m.bucket, m.prefix+mirrorName(id), minio.RemoveObjectOptions{})
	if err != nil && isNoSuchKey(err) {
		return nil
	}
	return err
}

// LocalMirror 把镜像写入本地目录。
type LocalMirror struct {
	dir string
}

// NewLocalMirror 创建目录（如不存在）并返回 LocalMirror。
func NewLocalMirror(dir string) (*LocalMirror, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &LocalMirror{dir: dir}, nil
}

func (l *LocalMirror) path(id string) string {
	return filepath.Join(l.dir, filepath.Base(mirrorName(id)))
}

func (l *LocalMirror) Write(_ context.Context, id, content string) error {
	tmp := l.path(id) + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path(id))
}

func (l *LocalMirror) Read(_ context.Context, id string) (string, error) {
	data, err := os.ReadFile(l.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrObjectNotFound
	}
	return string(data), err
}

func (l *LocalMirror) Remove(_ context.Context, id string) error {
	err := os.Remove(l.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
