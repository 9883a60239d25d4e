package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"meetinggenius/packages/logger"
	jobmodel "meetinggenius/services/ingest/internal/model/job"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

var ErrDispatcherClosed = errors.New("dispatcher is shutting down")

// Processor 执行单个任务
type Processor interface {
	Process(ctx context.Context, j Job) error
}

// Dispatcher 登记任务后在后台执行，限制同时运行的任务数
type Dispatcher struct {
	proc   Processor
	ledger Ledger
	sem    *semaphore.Weighted
	ctx    context.Context
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	log    zerolog.Logger
}

func NewDispatcher(proc Processor, ledger Ledger, maxConcurrent int) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		proc:   proc,
		ledger: ledger,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		ctx:    context.Background(),
		log:    logger.For("dispatcher"),
	}
}

// Submit 登记任务并立即返回，处理在后台进行
func (d *Dispatcher) Submit(ctx context.Context, j Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	if d.ledger != nil {
		err := d.ledger.Create(ctx, &jobmodel.IngestJob{
			JobID:       j.JobID,
			TotalChunks: j.TotalChunks,
			MimeType:    j.MimeType,
			Mode:        j.Mode,
			Model:       j.Model,
			FileSize:    j.FileSize,
			Status:      jobmodel.StatusPending,
		})
		if err != nil {
			return err
		}
	}

	d.wg.Add(1)
	go d.run(j)
	d.log.Info().Str("job_id", j.JobID).Int("chunks", j.TotalChunks).Int64("size", j.FileSize).Msg("job accepted")
	return nil
}

func (d *Dispatcher) run(j Job) {
	defer d.wg.Done()

	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		d.log.Error().Err(err).Str("job_id", j.JobID).Msg("failed to acquire job slot")
		return
	}
	defer d.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("job_id", j.JobID).Msg("job panicked")
			d.markFailed(j.JobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	// 处理结果已写入结果存储，这里无需再处理错误
	_ = d.proc.Process(d.ctx, j)
}

// markFailed 处理器异常退出时把台账置为 ERROR，查询结果不会一直停留在 PENDING
func (d *Dispatcher) markFailed(jobID, msg string) {
	if d.ledger == nil {
		return
	}
	now := time.Now().UTC()
	err := d.ledger.Update(d.ctx, jobID, Progress{Status: jobmodel.StatusError, Error: msg, FinishedAt: &now})
	if err != nil {
		d.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to mark job as failed")
	}
}

// Shutdown 停止接收新任务并等待进行中的任务结束
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
