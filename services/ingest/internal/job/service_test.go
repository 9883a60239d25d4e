package job

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"meetinggenius/services/ingest/internal/chunk"
	"meetinggenius/services/ingest/internal/gemini"
	jobmodel "meetinggenius/services/ingest/internal/model/job"
	"meetinggenius/services/ingest/internal/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend 记录调用顺序的后端
type stubBackend struct {
	credErr   error
	uploadErr error
	pollErr   error
	genErr    error
	genText   string
	fileMime  string // 后端文件句柄中的 mimeType
	panicAt   string // 在该阶段 panic

	calls    []string
	uploaded []byte
	genFile  *gemini.File
}

func (b *stubBackend) CheckCredential(context.Context) error {
	b.calls = append(b.calls, "credential")
	return b.credErr
}

func (b *stubBackend) Upload(_ context.Context, r io.Reader, size int64, _, _ string) (*gemini.File, error) {
	b.calls = append(b.calls, "upload")
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	b.uploaded = data
	if b.uploadErr != nil {
		return nil, b.uploadErr
	}
	return &gemini.File{Name: "files/x", URI: "https://backend/files/x", MimeType: b.fileMime, State: gemini.StateProcessing}, nil
}

func (b *stubBackend) WaitForActive(_ context.Context, f *gemini.File) (*gemini.File, error) {
	b.calls = append(b.calls, "poll")
	if b.panicAt == StagePoll {
		panic("unexpected file state")
	}
	if b.pollErr != nil {
		return nil, b.pollErr
	}
	active := *f
	active.State = gemini.StateActive
	return &active, nil
}

func (b *stubBackend) Generate(_ context.Context, f *gemini.File, _ gemini.Mode, model string) (*gemini.Generation, error) {
	b.calls = append(b.calls, "generate")
	if b.panicAt == StageGenerate {
		panic("nil candidate")
	}
	b.genFile = f
	if b.genErr != nil {
		return nil, b.genErr
	}
	return &gemini.Generation{Text: b.genText, Model: model}, nil
}

type fixture struct {
	backend *stubBackend
	chunks  *chunk.MemoryStore
	results *MemoryResultStore
	ledger  *MemoryLedger
	service *Service
}

func newFixture() *fixture {
	f := &fixture{
		backend: &stubBackend{genText: `{"summary":"ok"}`},
		chunks:  chunk.NewMemoryStore(),
		results: NewMemoryResultStore(),
		ledger:  NewMemoryLedger(),
	}
	f.service = NewService(f.backend, f.chunks, f.results, f.ledger)
	return f
}

func (f *fixture) submit(t *testing.T, data []byte, sizes ...int) Job {
	t.Helper()
	j := Job{
		JobID:       testutils.NewJobID(),
		MimeType:    "audio/webm",
		Mode:        string(gemini.ModeFull),
		Model:       "gemini-2.5-pro",
		FileSize:    int64(len(data)),
	}
	j.TotalChunks = testutils.SeedChunks(t, f.chunks, j.JobID, data, sizes...)
	require.NoError(t, f.ledger.Create(context.Background(), &jobmodel.IngestJob{JobID: j.JobID, Status: jobmodel.StatusPending}))
	return j
}

func TestProcess_Completed(t *testing.T) {
	f := newFixture()
	data := testutils.RandomBytes(300, 1)
	j := f.submit(t, data, 100, 150, 50)

	require.NoError(t, f.service.Process(context.Background(), j))

	assert.Equal(t, []string{"credential", "upload", "poll", "generate"}, f.backend.calls)
	assert.True(t, bytes.Equal(data, f.backend.uploaded))
	assert.Zero(t, f.chunks.Len())

	rec, err := f.results.Get(context.Background(), j.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusCompleted, rec.Status)
	assert.Equal(t, `{"summary":"ok"}`, rec.Result)
	assert.Equal(t, "gemini-2.5-pro", rec.Model)
	assert.Empty(t, rec.Error)

	row, err := f.ledger.Get(context.Background(), j.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusCompleted, row.Status)
	assert.Equal(t, StageDone, row.Stage)
	assert.Equal(t, "https://backend/files/x", row.FileURI)
	assert.NotNil(t, row.StartedAt)
	assert.NotNil(t, row.FinishedAt)
}

func TestProcess_Failures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(b *stubBackend)
		wantStage string
		wantCalls []string
		wantErr   error
	}{
		{
			name:      "凭证预检失败",
			setup:     func(b *stubBackend) { b.credErr = gemini.ErrCredentialRejected },
			wantStage: StageCredential,
			wantCalls: []string{"credential"},
			wantErr:   gemini.ErrCredentialRejected,
		},
		{
			name:      "上传失败",
			setup:     func(b *stubBackend) { b.uploadErr = &gemini.Error{Kind: gemini.KindUploadChunk, StatusCode: 500} },
			wantStage: StageUpload,
			wantCalls: []string{"credential", "upload"},
			wantErr:   gemini.ErrUploadChunk,
		},
		{
			name:      "处理超时",
			setup:     func(b *stubBackend) { b.pollErr = &gemini.Error{Kind: gemini.KindPollTimeout} },
			wantStage: StagePoll,
			wantCalls: []string{"credential", "upload", "poll"},
			wantErr:   gemini.ErrPollTimeout,
		},
		{
			name:      "生成失败",
			setup:     func(b *stubBackend) { b.genErr = &gemini.Error{Kind: gemini.KindInvalidRequest, StatusCode: 400} },
			wantStage: StageGenerate,
			wantCalls: []string{"credential", "upload", "poll", "generate"},
			wantErr:   gemini.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f.backend)
			j := f.submit(t, testutils.RandomBytes(10, 2), 10)

			err := f.service.Process(context.Background(), j)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantStage, StageOf(err))
			assert.Equal(t, tt.wantCalls, f.backend.calls)

			rec, rerr := f.results.Get(context.Background(), j.JobID)
			require.NoError(t, rerr)
			assert.Equal(t, jobmodel.StatusError, rec.Status)
			assert.NotEmpty(t, rec.Error)
			assert.Empty(t, rec.Result)

			row, _ := f.ledger.Get(context.Background(), j.JobID)
			assert.Equal(t, jobmodel.StatusError, row.Status)
			assert.Equal(t, tt.wantStage, row.Stage)
		})
	}
}

func TestProcess_CredentialFailureLeavesChunks(t *testing.T) {
	f := newFixture()
	f.backend.credErr = gemini.ErrCredentialRejected
	j := f.submit(t, testutils.RandomBytes(20, 3), 10, 10)

	_ = f.service.Process(context.Background(), j)
	assert.Equal(t, 2, f.chunks.Len())
}

func TestProcess_MissingChunk(t *testing.T) {
	f := newFixture()
	j := f.submit(t, testutils.RandomBytes(30, 4), 10, 10, 10)
	require.NoError(t, f.chunks.Delete(context.Background(), j.JobID, 1))

	err := f.service.Process(context.Background(), j)
	var missing *chunk.MissingChunkError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, 1, missing.Index)

	rec, _ := f.results.Get(context.Background(), j.JobID)
	assert.Equal(t, jobmodel.StatusError, rec.Status)
	assert.Contains(t, rec.Error, "chunk 1")
	assert.NotContains(t, f.backend.calls, "poll")
}

func TestProcess_ReplayFailsWithMissingChunk(t *testing.T) {
	f := newFixture()
	j := f.submit(t, testutils.RandomBytes(10, 5), 10)
	require.NoError(t, f.service.Process(context.Background(), j))

	// 同一任务再次执行：分块已被删除，结果不可覆盖
	err := f.service.Process(context.Background(), j)
	var missing *chunk.MissingChunkError
	assert.True(t, errors.As(err, &missing))
	assert.ErrorIs(t, err, ErrResultExists)

	rec, _ := f.results.Get(context.Background(), j.JobID)
	assert.Equal(t, jobmodel.StatusCompleted, rec.Status, "terminal record is write-once")
}

func TestResult_PendingByOmission(t *testing.T) {
	f := newFixture()
	j := f.submit(t, testutils.RandomBytes(10, 6), 10)

	res, err := f.service.Result(context.Background(), j.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusPending, res.Status)
	assert.Nil(t, res.FinishedAt)

	require.NoError(t, f.ledger.Update(context.Background(), j.JobID, Progress{Status: jobmodel.StatusProcessing}))
	res, err = f.service.Result(context.Background(), j.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusProcessing, res.Status)

	res, err = f.service.Result(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusPending, res.Status)
}

func TestProcess_GenerateUsesFileMimeType(t *testing.T) {
	tests := []struct {
		name     string
		fileMime string
		want     string
	}{
		{"后端未返回 mimeType 时沿用任务的类型", "", "audio/webm"},
		{"后端返回的 mimeType 优先", "audio/ogg", "audio/ogg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.backend.fileMime = tt.fileMime
			j := f.submit(t, testutils.RandomBytes(10, 12), 10)

			require.NoError(t, f.service.Process(context.Background(), j))
			require.NotNil(t, f.backend.genFile)
			assert.Equal(t, tt.want, f.backend.genFile.MimeType)
		})
	}
}

func TestProcess_PanicWritesErrorRecord(t *testing.T) {
	tests := []struct {
		stage string
	}{
		{StagePoll},
		{StageGenerate},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			f := newFixture()
			f.backend.panicAt = tt.stage
			j := f.submit(t, testutils.RandomBytes(10, 13), 10)

			err := f.service.Process(context.Background(), j)
			require.Error(t, err)
			assert.Equal(t, tt.stage, StageOf(err))

			rec, rerr := f.results.Get(context.Background(), j.JobID)
			require.NoError(t, rerr)
			assert.Equal(t, jobmodel.StatusError, rec.Status)
			assert.Contains(t, rec.Error, "internal error")

			row, _ := f.ledger.Get(context.Background(), j.JobID)
			assert.Equal(t, jobmodel.StatusError, row.Status)
			assert.Equal(t, tt.stage, row.Stage)
		})
	}
}

func TestResult_TerminalLedgerOutlivesResultRecord(t *testing.T) {
	f := newFixture()
	j := f.submit(t, testutils.RandomBytes(10, 14), 10)
	require.NoError(t, f.service.Process(context.Background(), j))

	// 结果记录过期后只剩台账
	expired := NewService(f.backend, f.chunks, NewMemoryResultStore(), f.ledger)
	res, err := expired.Result(context.Background(), j.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusCompleted, res.Status)
	assert.Equal(t, `{"summary":"ok"}`, res.Result)
	assert.Equal(t, "gemini-2.5-pro", res.Model)
	assert.NotNil(t, res.FinishedAt)
}

func TestResult_ErrorFromLedger(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	require.NoError(t, ledger.Create(ctx, &jobmodel.IngestJob{JobID: "failed", Status: jobmodel.StatusPending}))
	require.NoError(t, ledger.Update(ctx, "failed", Progress{Status: jobmodel.StatusError, Stage: StagePoll, Error: "file processing failed"}))

	svc := NewService(&stubBackend{}, chunk.NewMemoryStore(), NewMemoryResultStore(), ledger)
	res, err := svc.Result(ctx, "failed")
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusError, res.Status)
	assert.Equal(t, "file processing failed", res.Error)
	assert.Empty(t, res.Result)
}
