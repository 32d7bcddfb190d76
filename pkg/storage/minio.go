// Package storage 提供原始上传文件与处理后文本镜像的存储。
package storage

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"ragchat-go/internal/config"
	"ragchat-go/pkg/log"
)

// ErrObjectNotFound 表示对象不存在。
var ErrObjectNotFound = errors.New("storage: object not found")

// NewMinIO 创建 MinIO 客户端并确保存储桶存在。
func NewMinIO(ctx context.Context, cfg config.MinIOConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	log.Info("MinIO 客户端初始化成功")

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, err
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}
	return client, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}

// ObjectStore 是按名字存取原始上传文件的对象存储。
type ObjectStore interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Stat(ctx context.Context, name string) (int64, error)
}

// MinIOObjectStore 把对象存放在 bucket 下的 prefix 目录中。
type MinIOObjectStore struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinIOObjectStore(client *minio.Client, bucket, prefix string) *MinIOObjectStore {
	return &MinIOObjectStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *MinIOObjectStore) key(name string) string {
	return s.prefix + strings.TrimLeft(name, "/")
}

func (s *MinIOObjectStore) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), r, size, minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (s *MinIOObjectStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if _, err := s.Stat(ctx, name); err != nil {
		return nil, err
	}
	return s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
}

// Stat 返回对象大小，不存在时返回 ErrObjectNotFound。
func (s *MinIOObjectStore) Stat(ctx context.Context, name string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key(name), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return 0, ErrObjectNotFound
		}
		return 0, err
	}
	return info.Size, nil
}
