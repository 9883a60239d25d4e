package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"meetinggenius/packages/database"
	jobmodel "meetinggenius/services/ingest/internal/model/job"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ResultStore 保存任务终态，每个任务只写一次
type ResultStore interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, jobID string) (*Record, error)
}

// MemoryResultStore 进程内结果存储
type MemoryResultStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{records: make(map[string]Record)}
}

func (s *MemoryResultStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.JobID]; ok {
		return ErrResultExists
	}
	s.records[rec.JobID] = rec
	return nil
}

func (s *MemoryResultStore) Get(_ context.Context, jobID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[jobID]
	if !ok {
		return nil, ErrResultNotFound
	}
	return &rec, nil
}

const resultKeyPrefix = "result:"

// RedisResultStore 结果以 JSON 保存在 result:{jobId}，SETNX 保证只写一次
type RedisResultStore struct {
	rdb *database.RedisClient
	ttl time.Duration
}

func NewRedisResultStore(rdb *database.RedisClient, ttl time.Duration) *RedisResultStore {
	return &RedisResultStore{rdb: rdb, ttl: ttl}
}

func (s *RedisResultStore) Put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, resultKeyPrefix+rec.JobID, data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx result: %w", err)
	}
	if !ok {
		return ErrResultExists
	}
	return nil
}

func (s *RedisResultStore) Get(ctx context.Context, jobID string) (*Record, error) {
	data, err := s.rdb.Get(ctx, resultKeyPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get result: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &rec, nil
}

// GormResultStore 结果写入 ingest_jobs 表的 result/error 列
type GormResultStore struct {
	db *gorm.DB
}

func NewGormResultStore(db *gorm.DB) *GormResultStore {
	return &GormResultStore{db: db}
}

func (s *GormResultStore) Put(ctx context.Context, rec Record) error {
	finished := rec.FinishedAt
	tx := s.db.WithContext(ctx).
		Model(&jobmodel.IngestJob{}).
		Where("job_id = ? AND status NOT IN ?", rec.JobID, []jobmodel.Status{jobmodel.StatusCompleted, jobmodel.StatusError}).
		Updates(map[string]any{
			"status":      rec.Status,
			"result":      rec.Result,
			"error":       rec.Error,
			"model_used":  rec.Model,
			"finished_at": &finished,
		})
	if tx.Error != nil {
		return fmt.Errorf("update result: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&jobmodel.IngestJob{}).Where("job_id = ?", rec.JobID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrResultExists
		}
		return ErrJobNotFound
	}
	return nil
}

func (s *GormResultStore) Get(ctx context.Context, jobID string) (*Record, error) {
	var row jobmodel.IngestJob
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	if !row.Status.Terminal() {
		return nil, ErrResultNotFound
	}

	rec := &Record{
		JobID:  row.JobID,
		Status: row.Status,
		Result: row.Result,
		Error:  row.Error,
		Model:  row.ModelUsed,
	}
	if row.FinishedAt != nil {
		rec.FinishedAt = *row.FinishedAt
	}
	return rec, nil
}
