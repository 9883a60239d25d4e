package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// uploadCall 记录一次上传请求
type uploadCall struct {
	Command string
	Offset  int64
	Length  int
	Key     string
}

// fakeBackend 模拟推理后端的上传、文件与生成接口
type fakeBackend struct {
	t      *testing.T
	server *httptest.Server

	mu            sync.Mutex
	startHeaders  http.Header
	startStatus   int
	omitKeyInURL  bool
	uploads       []uploadCall
	received      []byte
	failUploadAt  int // 第 n 次 upload 请求失败，从 1 开始
	finalizeCode  int
	fileStates    []string // 依次返回的文件状态，"404"/"500" 表示返回对应状态码
	filePolls     int
	generate      map[string][]int // 模型 -> 依次返回的状态码，200 之后返回 generateText
	generateText  string
	generateCalls map[string]int
	lastGenerate  []byte
	credentialOK  bool
}

func newFakeBackend(t *testing.T) *fakeBackend {
	fb := &fakeBackend{
		t:             t,
		startStatus:   http.StatusOK,
		finalizeCode:  http.StatusOK,
		generate:      map[string][]int{},
		generateCalls: map[string]int{},
		generateText:  `{"transcription":"hello","summary":"s","conclusions":[],"actionItems":[]}`,
		credentialOK:  true,
	}
	fb.server = httptest.NewServer(http.HandlerFunc(fb.handle))
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBackend) client(opts ...func(*Config)) *Client {
	cfg := Config{
		BaseURL:         fb.server.URL,
		APIKey:          " 'test key' ",
		BlockSize:       8,
		PollMaxAttempts: 5,
		MaxRetries:      2,
		Fallbacks: FallbackTable{
			"model-a": {"model-a", "model-b", "model-c"},
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := NewClient(cfg)
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func (fb *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	path := r.URL.Path

	switch {
	case path == "/v1beta/models" && r.Method == http.MethodGet:
		if !fb.credentialOK {
			http.Error(w, `{"error":{"code":403,"message":"Requests from referer <empty> are blocked.","status":"PERMISSION_DENIED"}}`, http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"models":[]}`))

	case path == "/upload/v1beta/files":
		fb.startHeaders = r.Header.Clone()
		if fb.startStatus != http.StatusOK {
			w.WriteHeader(fb.startStatus)
			w.Write([]byte(`{"error":{"message":"bad start"}}`))
			return
		}
		session := fb.server.URL + "/upload/session/abc?upload_id=1"
		if !fb.omitKeyInURL {
			session += "&key=" + url.QueryEscape(r.URL.Query().Get("key"))
		}
		w.Header().Set("X-Goog-Upload-URL", session)
		w.WriteHeader(http.StatusOK)

	case path == "/upload/session/abc":
		offset, _ := strconv.ParseInt(r.Header.Get("X-Goog-Upload-Offset"), 10, 64)
		call := uploadCall{
			Command: r.Header.Get("X-Goog-Upload-Command"),
			Offset:  offset,
			Length:  len(body),
			Key:     r.URL.Query().Get("key"),
		}
		fb.uploads = append(fb.uploads, call)
		if call.Command == "upload" && fb.failUploadAt == len(fb.uploads) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if strings.Contains(call.Command, "finalize") && fb.finalizeCode != http.StatusOK {
			w.WriteHeader(fb.finalizeCode)
			return
		}
		fb.received = append(fb.received, body...)
		if strings.Contains(call.Command, "finalize") {
			json.NewEncoder(w).Encode(map[string]any{"file": File{
				Name:     "files/abc",
				URI:      fb.server.URL + "/v1beta/files/abc",
				MimeType: "audio/webm",
				State:    StateProcessing,
			}})
			return
		}
		w.Header().Set("X-Goog-Upload-Status", "active")

	case path == "/v1beta/files/abc":
		fb.filePolls++
		state := StateActive
		if len(fb.fileStates) > 0 {
			state = fb.fileStates[0]
			fb.fileStates = fb.fileStates[1:]
		}
		switch state {
		case "404":
			http.Error(w, `{"error":{"code":404,"message":"file not found"}}`, http.StatusNotFound)
		case "500":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			f := File{Name: "files/abc", URI: fb.server.URL + "/v1beta/files/abc", MimeType: "audio/webm", State: state}
			if state == StateFailed {
				f.Error = &apiError{Code: 400, Message: "unsupported audio"}
			}
			json.NewEncoder(w).Encode(f)
		}

	case strings.HasPrefix(path, "/v1beta/models/") && strings.HasSuffix(path, ":generateContent"):
		model := strings.TrimSuffix(strings.TrimPrefix(path, "/v1beta/models/"), ":generateContent")
		fb.generateCalls[model]++
		fb.lastGenerate = body
		codes := fb.generate[model]
		code := http.StatusOK
		if len(codes) > 0 {
			code = codes[0]
			fb.generate[model] = codes[1:]
		}
		if code != http.StatusOK {
			w.WriteHeader(code)
			fmt.Fprintf(w, `{"error":{"code":%d,"message":"status %d from %s"}}`, code, code, model)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]string{"text": fb.generateText}}},
			}},
		})

	default:
		fb.t.Errorf("unexpected request %s %s", r.Method, r.URL.String())
		w.WriteHeader(http.StatusTeapot)
	}
}
