package database

import (
	"errors"
	"fmt"
	"time"

	"meetinggenius/packages/database"
	"meetinggenius/services/ingest/config"
	"meetinggenius/services/ingest/internal/model"

	"gorm.io/gorm"
)

const serviceName = "ingest-service"

var (
	PostgresDB *gorm.DB
	RedisDB    *database.RedisClient
	MinioDB    *database.MinioClient
)

// InitDatabase 只连接流水线配置实际用到的存储
func InitDatabase() error {
	p := config.Conf.Pipeline

	if p.Ledger == "postgres" || p.ResultStore == "postgres" {
		if err := initPostgres(); err != nil {
			return err
		}
	}
	if p.ChunkStore == "redis" || p.ResultStore == "redis" {
		if err := initRedis(); err != nil {
			return err
		}
	}
	if p.ChunkStore == "minio" {
		if err := initMinio(); err != nil {
			return err
		}
	}
	return nil
}

func initPostgres() error {
	databaseConf := config.Conf.Database

	logLevel := databaseConf.LogLevel
	if logLevel == "" {
		logLevel = "warn"
	}

	var err error
	PostgresDB, err = database.InitPostgres(
		&database.PostgresConfig{
			ServiceName:     serviceName,
			Username:        databaseConf.Username,
			Password:        databaseConf.Password,
			Host:            databaseConf.Host,
			Port:            databaseConf.Port,
			Database:        databaseConf.Database,
			SSLMode:         databaseConf.SSLMode,
			LogLevel:        logLevel,
			MaxIdleConns:    databaseConf.MaxIdleConns,
			MaxOpenConns:    databaseConf.MaxOpenConns,
			ConnMaxLifetime: time.Duration(databaseConf.MaxLifetime) * time.Second,
		},
	)
	if err != nil {
		return err
	}

	// 初始化数据库表
	if err := model.InitTable(PostgresDB); err != nil {
		return fmt.Errorf("迁移数据库表失败: %w", err)
	}
	return nil
}

func initRedis() error {
	redisConf := config.Conf.Redis

	var err error
	RedisDB, err = database.InitRedis(
		&database.RedisConfig{
			ServiceName: serviceName,
			Host:        redisConf.Host,
			Port:        redisConf.Port,
			Password:    redisConf.Password,
			DB:          redisConf.DB,
			PoolSize:    redisConf.PoolSize,
		},
	)
	return err
}

func initMinio() error {
	minioConf := config.Conf.Minio

	var err error
	MinioDB, err = database.InitMinio(
		&database.MinioConfig{
			ServiceName:  serviceName,
			Endpoint:     minioConf.Endpoint,
			AccessKey:    minioConf.AccessKey,
			SecretKey:    minioConf.SecretKey,
			Bucket:       minioConf.Bucket,
			UseSSL:       minioConf.UseSSL,
			CreateBucket: minioConf.CreateBucket,
		},
	)
	return err
}

// Close 关闭已建立的连接
func Close() error {
	var errs []error
	if PostgresDB != nil {
		if sqlDB, err := PostgresDB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if RedisDB != nil {
		errs = append(errs, RedisDB.Close())
	}
	return errors.Join(errs...)
}
