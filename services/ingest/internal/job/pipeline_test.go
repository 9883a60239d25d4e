package job

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"meetinggenius/services/ingest/internal/chunk"
	"meetinggenius/services/ingest/internal/gemini"
	jobmodel "meetinggenius/services/ingest/internal/model/job"
	"meetinggenius/services/ingest/internal/testutils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1024 * 1024

// backendServer 推理后端的最小实现，记录上传指令与收到的字节
type backendServer struct {
	server *httptest.Server

	mu         sync.Mutex
	commands   []string
	lengths    []int
	received   int
	credential int
	generate   map[string][]int
	calls      []string
	lastBody   []byte
}

func newBackendServer(t *testing.T) *backendServer {
	bs := &backendServer{credential: http.StatusOK, generate: map[string][]int{}}
	bs.server = httptest.NewServer(http.HandlerFunc(bs.handle))
	t.Cleanup(bs.server.Close)
	return bs
}

func (bs *backendServer) handle(w http.ResponseWriter, r *http.Request) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	switch path := r.URL.Path; {
	case path == "/v1beta/models":
		if bs.credential != http.StatusOK {
			w.WriteHeader(bs.credential)
			w.Write([]byte(`{"error":{"code":403,"message":"API key not valid. Please pass a valid API key."}}`))
			return
		}
		w.Write([]byte(`{"models":[]}`))

	case path == "/upload/v1beta/files":
		w.Header().Set("X-Goog-Upload-URL", bs.server.URL+"/session?key="+r.URL.Query().Get("key"))

	case path == "/session":
		cmd := r.Header.Get("X-Goog-Upload-Command")
		bs.commands = append(bs.commands, cmd)
		bs.lengths = append(bs.lengths, len(body))
		bs.received += len(body)
		if strings.Contains(cmd, "finalize") {
			json.NewEncoder(w).Encode(map[string]any{"file": gemini.File{
				Name:  "files/meeting",
				URI:   bs.server.URL + "/v1beta/files/meeting",
				State: gemini.StateProcessing,
			}})
		}

	case path == "/v1beta/files/meeting":
		json.NewEncoder(w).Encode(gemini.File{Name: "files/meeting", URI: bs.server.URL + "/v1beta/files/meeting", State: gemini.StateActive})

	case strings.HasSuffix(path, ":generateContent"):
		model := strings.TrimSuffix(strings.TrimPrefix(path, "/v1beta/models/"), ":generateContent")
		bs.calls = append(bs.calls, model)
		bs.lastBody = body
		if codes := bs.generate[model]; len(codes) > 0 {
			code := codes[0]
			bs.generate[model] = codes[1:]
			w.WriteHeader(code)
			fmt.Fprintf(w, `{"error":{"code":%d,"message":"%s returned %d"}}`, code, model, code)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]string{"text": `{"summary":"` + model + `"}`}}},
			}},
		})

	default:
		w.WriteHeader(http.StatusTeapot)
	}
}

func (bs *backendServer) service(t *testing.T) (*Service, *chunk.MemoryStore, *MemoryResultStore) {
	t.Helper()
	client := gemini.NewClient(gemini.Config{
		BaseURL:        bs.server.URL,
		APIKey:         "test-key",
		PollInterval:   time.Millisecond,
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
		Fallbacks:      gemini.FallbackTable{"pro": {"pro", "flash"}},
	})
	chunks := chunk.NewMemoryStore()
	results := NewMemoryResultStore()
	return NewService(client, chunks, results, NewMemoryLedger()), chunks, results
}

func TestPipeline_BlockAlignedUpload(t *testing.T) {
	bs := newBackendServer(t)
	svc, chunks, results := bs.service(t)

	// 5 MiB + 4 MiB 两个分块，8 MiB 一块：一次 upload，剩余 1 MiB 随 finalize 发送
	data := testutils.RandomBytes(9*mib, 7)
	j := Job{JobID: testutils.NewJobID(), MimeType: "audio/webm", Mode: "FULL", Model: "pro", FileSize: int64(len(data))}
	j.TotalChunks = testutils.SeedChunks(t, chunks, j.JobID, data, 5*mib, 4*mib)

	require.NoError(t, svc.Process(context.Background(), j))

	assert.Equal(t, []string{"upload", "upload, finalize"}, bs.commands)
	assert.Equal(t, []int{8 * mib, 1 * mib}, bs.lengths)
	assert.Equal(t, 9*mib, bs.received)
	assert.Zero(t, chunks.Len())

	rec, err := results.Get(context.Background(), j.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusCompleted, rec.Status)
	assert.Equal(t, "pro", rec.Model)

	// 文件句柄没有 mimeType，生成请求使用任务提交的类型
	assert.Contains(t, string(bs.lastBody), `"mimeType":"audio/webm"`)
}

func TestPipeline_FallsBackOnOverload(t *testing.T) {
	bs := newBackendServer(t)
	bs.generate["pro"] = []int{503, 503}
	svc, chunks, results := bs.service(t)

	data := testutils.RandomBytes(100, 8)
	j := Job{JobID: testutils.NewJobID(), MimeType: "audio/webm", Mode: "NOTES_ONLY", Model: "pro", FileSize: 100}
	j.TotalChunks = testutils.SeedChunks(t, chunks, j.JobID, data, 60, 40)

	require.NoError(t, svc.Process(context.Background(), j))

	assert.Equal(t, []string{"pro", "pro", "flash"}, bs.calls)
	rec, err := results.Get(context.Background(), j.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobmodel.StatusCompleted, rec.Status)
	assert.Equal(t, "flash", rec.Model)
	assert.Equal(t, `{"summary":"flash"}`, rec.Result)
}

func TestPipeline_NonTransientFailureSkipsFallback(t *testing.T) {
	bs := newBackendServer(t)
	bs.generate["pro"] = []int{400}
	svc, chunks, results := bs.service(t)

	j := Job{JobID: testutils.NewJobID(), MimeType: "audio/webm", Mode: "FULL", Model: "pro", FileSize: 10}
	j.TotalChunks = testutils.SeedChunks(t, chunks, j.JobID, testutils.RandomBytes(10, 9), 10)

	err := svc.Process(context.Background(), j)
	assert.ErrorIs(t, err, gemini.ErrInvalidRequest)
	assert.Equal(t, []string{"pro"}, bs.calls)

	rec, _ := results.Get(context.Background(), j.JobID)
	assert.Equal(t, jobmodel.StatusError, rec.Status)
	assert.Equal(t, "pro returned 400", rec.Error)
}

func TestPipeline_MissingChunkNeverFinalizes(t *testing.T) {
	bs := newBackendServer(t)
	svc, chunks, results := bs.service(t)

	j := Job{JobID: testutils.NewJobID(), MimeType: "audio/webm", Mode: "FULL", Model: "pro", FileSize: 30}
	j.TotalChunks = testutils.SeedChunks(t, chunks, j.JobID, testutils.RandomBytes(30, 10), 10, 10, 10)
	require.NoError(t, chunks.Delete(context.Background(), j.JobID, 2))

	err := svc.Process(context.Background(), j)
	require.Error(t, err)
	assert.NotContains(t, bs.commands, "upload, finalize")
	assert.Empty(t, bs.calls)

	rec, _ := results.Get(context.Background(), j.JobID)
	assert.Equal(t, jobmodel.StatusError, rec.Status)
	assert.Contains(t, rec.Error, "chunk 2")
}

func TestPipeline_CredentialRejected(t *testing.T) {
	bs := newBackendServer(t)
	bs.credential = http.StatusForbidden
	svc, chunks, results := bs.service(t)

	j := Job{JobID: testutils.NewJobID(), MimeType: "audio/webm", Mode: "FULL", Model: "pro", FileSize: 10}
	j.TotalChunks = testutils.SeedChunks(t, chunks, j.JobID, testutils.RandomBytes(10, 11), 10)

	err := svc.Process(context.Background(), j)
	assert.ErrorIs(t, err, gemini.ErrCredentialRejected)
	assert.Empty(t, bs.commands)
	assert.Equal(t, 1, chunks.Len())

	rec, _ := results.Get(context.Background(), j.JobID)
	assert.Equal(t, jobmodel.StatusError, rec.Status)
	assert.Contains(t, rec.Error, "API key not valid.")
}
