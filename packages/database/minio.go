package database

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MinioConfig 对象存储配置
type MinioConfig struct {
	ServiceName  string // 服务名称，用于日志标识
	Endpoint     string // host:port
	AccessKey    string
	SecretKey    string
	Bucket       string
	UseSSL       bool
	CreateBucket bool // bucket 不存在时自动创建
}

// MinioClient 对象存储客户端封装，绑定一个 bucket
type MinioClient struct {
	*minio.Client
	Bucket string
}

// InitMinio 初始化 MinIO / S3 兼容存储连接
func InitMinio(config *MinioConfig) (*MinioClient, error) {
	if config == nil {
		return nil, fmt.Errorf("minio 配置不能为空")
	}
	if config.Endpoint == "" || config.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint 和 bucket 不能为空")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 minio 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("检查 bucket 失败: %w", err)
	}
	if !exists {
		if !config.CreateBucket {
			return nil, fmt.Errorf("bucket %q 不存在", config.Bucket)
		}
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 bucket 失败: %w", err)
		}
	}

	log.Info().
		Str("service", serviceName(config.ServiceName)).
		Str("endpoint", config.Endpoint).
		Str("bucket", config.Bucket).
		Msg("minio connected")

	return &MinioClient{Client: client, Bucket: config.Bucket}, nil
}
