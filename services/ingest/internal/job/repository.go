package job

import (
	"context"
	"errors"
	"sync"

	jobmodel "meetinggenius/services/ingest/internal/model/job"

	"gorm.io/gorm"
)

// Ledger 任务台账：记录提交与处理进度
type Ledger interface {
	Create(ctx context.Context, j *jobmodel.IngestJob) error
	Update(ctx context.Context, jobID string, p Progress) error
	Get(ctx context.Context, jobID string) (*jobmodel.IngestJob, error)
}

// Repository 基于 gorm 的台账
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, j *jobmodel.IngestJob) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&jobmodel.IngestJob{}).Where("job_id = ?", j.JobID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateJob
	}

	err := r.db.WithContext(ctx).Create(j).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateJob
	}
	return err
}

func (r *Repository) Update(ctx context.Context, jobID string, p Progress) error {
	updates := progressFields(p)
	if len(updates) == 0 {
		return nil
	}
	tx := r.db.WithContext(ctx).Model(&jobmodel.IngestJob{}).Where("job_id = ?", jobID).Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, jobID string) (*jobmodel.IngestJob, error) {
	var j jobmodel.IngestJob
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func progressFields(p Progress) map[string]any {
	updates := map[string]any{}
	if p.Status != "" {
		updates["status"] = p.Status
	}
	if p.Stage != "" {
		updates["stage"] = p.Stage
	}
	if p.FileURI != "" {
		updates["file_uri"] = p.FileURI
	}
	if p.ModelUsed != "" {
		updates["model_used"] = p.ModelUsed
	}
	if p.Result != "" {
		updates["result"] = p.Result
	}
	if p.Error != "" {
		updates["error"] = p.Error
	}
	if p.StartedAt != nil {
		updates["started_at"] = p.StartedAt
	}
	if p.FinishedAt != nil {
		updates["finished_at"] = p.FinishedAt
	}
	return updates
}

// MemoryLedger 进程内台账
type MemoryLedger struct {
	mu   sync.RWMutex
	jobs map[string]*jobmodel.IngestJob
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{jobs: make(map[string]*jobmodel.IngestJob)}
}

func (l *MemoryLedger) Create(_ context.Context, j *jobmodel.IngestJob) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.jobs[j.JobID]; ok {
		return ErrDuplicateJob
	}
	cp := *j
	l.jobs[j.JobID] = &cp
	return nil
}

func (l *MemoryLedger) Update(_ context.Context, jobID string, p Progress) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	j, ok := l.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if p.Status != "" {
		j.Status = p.Status
	}
	if p.Stage != "" {
		j.Stage = p.Stage
	}
	if p.FileURI != "" {
		j.FileURI = p.FileURI
	}
	if p.ModelUsed != "" {
		j.ModelUsed = p.ModelUsed
	}
	if p.Result != "" {
		j.Result = p.Result
	}
	if p.Error != "" {
		j.Error = p.Error
	}
	if p.StartedAt != nil {
		j.StartedAt = p.StartedAt
	}
	if p.FinishedAt != nil {
		j.FinishedAt = p.FinishedAt
	}
	return nil
}

func (l *MemoryLedger) Get(_ context.Context, jobID string) (*jobmodel.IngestJob, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	j, ok := l.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}
