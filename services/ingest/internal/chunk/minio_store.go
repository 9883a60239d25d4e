package chunk

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"

	"meetinggenius/packages/database"
)

// MinioStore 分块保存为对象，key 为 {prefix}{jobId}/{index}
type MinioStore struct {
	client *database.MinioClient
	prefix string
}

func NewMinioStore(client *database.MinioClient, prefix string) *MinioStore {
	return &MinioStore{client: client, prefix: prefix}
}

func (s *MinioStore) objectKey(jobID string, index int) string {
	return s.prefix + Key(jobID, index)
}

func (s *MinioStore) Get(ctx context.Context, jobID string, index int) (string, error) {
	obj, err := s.client.GetObject(ctx, s.client.Bucket, s.objectKey(jobID, index), minio.GetObjectOptions{})
	if err != nil {
		return "", s.translate(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", s.translate(err)
	}
	return string(data), nil
}

func (s *MinioStore) Put(ctx context.Context, jobID string, index int, data string) error {
	_, err := s.client.PutObject(ctx, s.client.Bucket, s.objectKey(jobID, index),
		strings.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/plain"},
	)
	if err != nil {
		return fmt.Errorf("minio put chunk: %w", err)
	}
	return nil
}

func (s *MinioStore) Delete(ctx context.Context, jobID string, index int) error {
	err := s.client.RemoveObject(ctx, s.client.Bucket, s.objectKey(jobID, index), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("minio remove chunk: %w", err)
	}
	return nil
}

func (s *MinioStore) translate(err error) error {
	if isNoSuchKey(err) {
		return ErrNotFound
	}
	return fmt.Errorf("minio get chunk: %w", err)
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
