package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"meetinggenius/packages/logger"
	"meetinggenius/services/ingest/internal/chunk"
	"meetinggenius/services/ingest/internal/gemini"
	jobmodel "meetinggenius/services/ingest/internal/model/job"

	"github.com/rs/zerolog"
)

// Backend 推理后端
type Backend interface {
	CheckCredential(ctx context.Context) error
	Upload(ctx context.Context, r io.Reader, size int64, mimeType, displayName string) (*gemini.File, error)
	WaitForActive(ctx context.Context, f *gemini.File) (*gemini.File, error)
	Generate(ctx context.Context, f *gemini.File, mode gemini.Mode, model string) (*gemini.Generation, error)
}

// Service 任务编排：凭证预检 -> 重组上传 -> 等待处理 -> 生成 -> 写终态
type Service struct {
	backend Backend
	chunks  chunk.Store
	results ResultStore
	ledger  Ledger
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(backend Backend, chunks chunk.Store, results ResultStore, ledger Ledger) *Service {
	return &Service{
		backend: backend,
		chunks:  chunks,
		results: results,
		ledger:  ledger,
		log:     logger.For("orchestrator"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Process 执行一个任务并写入终态记录
//
// 每个阶段只尝试一次，任何致命错误都会写入 ERROR 记录。返回值是流水线错误或
// 写结果失败的错误，调用方只用于日志与消息确认。
func (s *Service) Process(ctx context.Context, j Job) error {
	l := s.log.With().Str("job_id", j.JobID).Str("model", j.Model).Str("mode", j.Mode).Logger()
	started := s.now()
	s.progress(ctx, l, j.JobID, Progress{Status: jobmodel.StatusProcessing, Stage: StageCredential, StartedAt: &started})

	gen, err := s.runRecovered(ctx, l, j)

	rec := Record{JobID: j.JobID, FinishedAt: s.now()}
	final := Progress{FinishedAt: &rec.FinishedAt}
	if err != nil {
		rec.Status = jobmodel.StatusError
		rec.Error = SanitizeError(err)
		final.Status, final.Stage, final.Error = jobmodel.StatusError, StageOf(err), rec.Error
		l.Error().Err(err).Str("stage", StageOf(err)).Stringer("kind", gemini.KindOf(err)).Msg("job failed")
	} else {
		rec.Status = jobmodel.StatusCompleted
		rec.Result = gen.Text
		rec.Model = gen.Model
		final.Status, final.Stage, final.ModelUsed, final.Result = jobmodel.StatusCompleted, StageDone, gen.Model, gen.Text
		l.Info().Str("model_used", gen.Model).Dur("elapsed", rec.FinishedAt.Sub(started)).Msg("job completed")
	}

	if perr := s.results.Put(ctx, rec); perr != nil {
		l.Error().Err(perr).Str("status", string(rec.Status)).Msg("failed to write result record")
		return errors.Join(err, perr)
	}
	s.progress(ctx, l, j.JobID, final)
	return err
}

// runRecovered 把流水线中的 panic 转为当前阶段的错误，任务仍然得到 ERROR 记录
func (s *Service) runRecovered(ctx context.Context, l zerolog.Logger, j Job) (gen *gemini.Generation, err error) {
	stage := StageCredential
	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Str("stage", stage).Msg("job panicked")
			gen, err = nil, &StageError{Stage: stage, Err: fmt.Errorf("internal error: %v", r)}
		}
	}()
	return s.run(ctx, l, j, &stage)
}

func (s *Service) run(ctx context.Context, l zerolog.Logger, j Job, stage *string) (*gemini.Generation, error) {
	// 1. 凭证预检
	if err := s.backend.CheckCredential(ctx); err != nil {
		return nil, &StageError{Stage: StageCredential, Err: err}
	}

	// 2. 按序读取分块并流式上传
	*stage = StageUpload
	s.progress(ctx, l, j.JobID, Progress{Stage: StageUpload})
	reader := chunk.NewReader(ctx, s.chunks, j.JobID, j.TotalChunks)
	file, err := s.backend.Upload(ctx, reader, j.FileSize, j.MimeType, j.JobID)
	if err != nil {
		return nil, &StageError{Stage: StageUpload, Err: err}
	}
	l.Info().Str("file", file.Name).Int64("bytes", reader.Consumed()).Msg("audio uploaded")

	// 3. 等待后端处理完成
	*stage = StagePoll
	s.progress(ctx, l, j.JobID, Progress{Stage: StagePoll, FileURI: file.URI})
	file, err = s.backend.WaitForActive(ctx, file)
	if err != nil {
		return nil, &StageError{Stage: StagePoll, Err: err}
	}
	// 后端未返回 mimeType 时沿用提交时的类型
	if file.MimeType == "" {
		file.MimeType = j.MimeType
	}

	// 4. 生成
	*stage = StageGenerate
	s.progress(ctx, l, j.JobID, Progress{Stage: StageGenerate})
	gen, err := s.backend.Generate(ctx, file, j.mode(), j.Model)
	if err != nil {
		return nil, &StageError{Stage: StageGenerate, Err: err}
	}
	return gen, nil
}

// progress 台账更新失败只记录日志，不影响任务
func (s *Service) progress(ctx context.Context, l zerolog.Logger, jobID string, p Progress) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Update(ctx, jobID, p); err != nil {
		l.Warn().Err(err).Str("stage", p.Stage).Msg("failed to update job ledger")
	}
}

// Result 查询任务结果；结果存储与台账都没有终态时返回 PENDING 或 PROCESSING
func (s *Service) Result(ctx context.Context, jobID string) (*ResultResponse, error) {
	rec, err := s.results.Get(ctx, jobID)
	if err == nil {
		finished := rec.FinishedAt
		return &ResultResponse{
			JobID:      rec.JobID,
			Status:     rec.Status,
			Result:     rec.Result,
			Error:      rec.Error,
			Model:      rec.Model,
			FinishedAt: &finished,
		}, nil
	}
	if !errors.Is(err, ErrResultNotFound) {
		return nil, err
	}

	// 结果存储中的记录可能已过期，台账的终态同样是最终结果
	res := &ResultResponse{JobID: jobID, Status: jobmodel.StatusPending}
	if s.ledger == nil {
		return res, nil
	}
	row, lerr := s.ledger.Get(ctx, jobID)
	if lerr != nil {
		return res, nil
	}
	switch {
	case row.Status.Terminal():
		res.Status = row.Status
		res.Result = row.Result
		res.Error = row.Error
		res.Model = row.ModelUsed
		res.FinishedAt = row.FinishedAt
	case row.Status == jobmodel.StatusProcessing:
		res.Status = jobmodel.StatusProcessing
	}
	return res, nil
}

// Status 台账中的任务详情
func (s *Service) Status(ctx context.Context, jobID string) (*jobmodel.IngestJob, error) {
	if s.ledger == nil {
		return nil, ErrJobNotFound
	}
	return s.ledger.Get(ctx, jobID)
}
