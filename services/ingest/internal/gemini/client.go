// Package gemini 实现推理后端的文件上传、处理状态轮询与内容生成
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"meetinggenius/packages/logger"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL         = "https://generativelanguage.googleapis.com"
	DefaultBlockSize       = 8 * 1024 * 1024
	DefaultPollInterval    = 2 * time.Second
	DefaultPollMaxAttempts = 60
	DefaultMaxRetries      = 2
	DefaultRetryBaseDelay  = time.Second

	apiVersion      = "v1beta"
	maxResponseBody = 64 << 20
)

// 文件处理状态
const (
	StateProcessing = "PROCESSING"
	StateActive     = "ACTIVE"
	StateFailed     = "FAILED"
)

// Config 客户端配置。零值字段使用默认值，MaxRetries 为 0 表示不重试
type Config struct {
	BaseURL         string
	APIKey          string // 原始 key，内部会做规范化
	BlockSize       int
	PollInterval    time.Duration
	PollMaxAttempts int
	MaxRetries      int
	RetryBaseDelay  time.Duration
	Fallbacks       FallbackTable
	HTTPClient      *http.Client
}

// Client 推理后端客户端，可被多个任务并发使用
type Client struct {
	baseURL         string
	key             string
	blockSize       int
	pollInterval    time.Duration
	pollMaxAttempts int
	maxRetries      int
	retryBaseDelay  time.Duration
	fallbacks       FallbackTable
	http            *http.Client
	sleep           func(ctx context.Context, d time.Duration) error
	log             zerolog.Logger
}

// File 后端文件资源
type File struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName,omitempty"`
	URI         string    `json:"uri"`
	MimeType    string    `json:"mimeType"`
	SizeBytes   string    `json:"sizeBytes,omitempty"`
	State       string    `json:"state"`
	Error       *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// apiErrorEnvelope {"error": {"code": 503, "message": "...", "status": "UNAVAILABLE"}}
type apiErrorEnvelope struct {
	Error apiError `json:"error"`
}

func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		key:             NormalizeAPIKey(cfg.APIKey),
		blockSize:       cfg.BlockSize,
		pollInterval:    cfg.PollInterval,
		pollMaxAttempts: cfg.PollMaxAttempts,
		maxRetries:      cfg.MaxRetries,
		retryBaseDelay:  cfg.RetryBaseDelay,
		fallbacks:       cfg.Fallbacks,
		http:            cfg.HTTPClient,
		sleep:           sleepContext,
		log:             logger.For("gemini"),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.blockSize <= 0 {
		c.blockSize = DefaultBlockSize
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.pollMaxAttempts <= 0 {
		c.pollMaxAttempts = DefaultPollMaxAttempts
	}
	if c.maxRetries < 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.retryBaseDelay <= 0 {
		c.retryBaseDelay = DefaultRetryBaseDelay
	}
	if c.fallbacks == nil {
		c.fallbacks = DefaultFallbacks()
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 5 * time.Minute}
	}
	return c
}

// CheckCredential 用一次最小的列表请求确认 key 可用
func (c *Client) CheckCredential(ctx context.Context) error {
	if c.key == "" {
		return &Error{Kind: KindCredentialRejected, Message: "api key is empty"}
	}

	endpoint := withKey(fmt.Sprintf("%s/%s/models?pageSize=1", c.baseURL, apiVersion), c.key)
	resp, body, err := c.do(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return &Error{Kind: KindTransport, Message: "credential check", Err: err}
	}

	switch {
	case isSuccess(resp.StatusCode):
		return nil
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return &Error{
			Kind:       KindCredentialRejected,
			StatusCode: resp.StatusCode,
			Message:    "api key was rejected; if it is restricted to HTTP referrers, server-side calls carry no referrer and are refused, so use a key without referrer restrictions",
			Body:       string(body),
		}
	default:
		return &Error{Kind: KindTransport, Message: "credential check", StatusCode: resp.StatusCode, Body: string(body)}
	}
}

// do 发送请求并读取完整响应体
func (c *Client) do(ctx context.Context, method, url string, body []byte, header http.Header) (*http.Response, []byte, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.ContentLength = int64(len(body))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp, data, nil
}

func (c *Client) postJSON(ctx context.Context, url string, payload any) (*http.Response, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return c.do(ctx, http.MethodPost, url, data, header)
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func parseEnvelope(body []byte) *apiErrorEnvelope {
	var env apiErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || (env.Error.Message == "" && env.Error.Status == "") {
		return nil
	}
	return &env
}

// sleepContext 可被 ctx 打断的等待
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
