package gemini

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 错误分类。重试与降级只依据 Kind 判断，不匹配错误文本
type Kind uint8

const (
	KindUnknown Kind = iota
	KindCredentialRejected
	KindUploadInit
	KindUploadChunk
	KindUploadFinalize
	KindFileNotFound
	KindFileProcessingFailed
	KindPollTimeout
	KindModelOverloaded
	KindRateLimited
	KindInvalidRequest
	KindAllModelsExhausted
	KindTransport
)

var kindNames = map[Kind]string{
	KindUnknown:              "gemini error",
	KindCredentialRejected:   "credential rejected",
	KindUploadInit:           "upload init failed",
	KindUploadChunk:          "upload chunk failed",
	KindUploadFinalize:       "upload finalize failed",
	KindFileNotFound:         "file not found",
	KindFileProcessingFailed: "file processing failed",
	KindPollTimeout:          "file processing timed out",
	KindModelOverloaded:      "model overloaded",
	KindRateLimited:          "rate limited",
	KindInvalidRequest:       "invalid request",
	KindAllModelsExhausted:   "all models exhausted",
	KindTransport:            "request failed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Error 推理后端调用失败
type Error struct {
	Kind       Kind
	StatusCode int      // HTTP 状态码，0 表示未收到响应
	Message    string   // 补充说明
	Body       string   // 后端原始响应体
	Model      string   // 生成阶段的模型
	Offset     int64    // 上传阶段的字节偏移
	State      string   // 文件处理状态
	Models     []string // 已尝试的降级链
	Err        error
}

// 仅用于 errors.Is 比较的哨兵值
var (
	ErrCredentialRejected   = &Error{Kind: KindCredentialRejected}
	ErrUploadInit           = &Error{Kind: KindUploadInit}
	ErrUploadChunk          = &Error{Kind: KindUploadChunk}
	ErrUploadFinalize       = &Error{Kind: KindUploadFinalize}
	ErrFileNotFound         = &Error{Kind: KindFileNotFound}
	ErrFileProcessingFailed = &Error{Kind: KindFileProcessingFailed}
	ErrPollTimeout          = &Error{Kind: KindPollTimeout}
	ErrModelOverloaded      = &Error{Kind: KindModelOverloaded}
	ErrRateLimited          = &Error{Kind: KindRateLimited}
	ErrInvalidRequest       = &Error{Kind: KindInvalidRequest}
	ErrAllModelsExhausted   = &Error{Kind: KindAllModelsExhausted}
)

const maxBodyInError = 1024

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Model != "" {
		fmt.Fprintf(&b, " [%s]", e.Model)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(truncate(e.Body, maxBodyInError))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按 Kind 匹配哨兵值
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Transient 是否可以在同一模型上重试
func (e *Error) Transient() bool {
	return e.Kind == KindModelOverloaded || e.Kind == KindRateLimited
}

// IsTransient 判断 err 链中是否是可重试的后端错误
func IsTransient(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Transient()
}

// KindOf 返回 err 链中第一个 *Error 的 Kind
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

// classifyGenerate 生成接口的错误分类
func classifyGenerate(statusCode int, env *apiErrorEnvelope) Kind {
	switch {
	case statusCode == 503:
		return KindModelOverloaded
	case statusCode == 429:
		return KindRateLimited
	}
	if env != nil {
		switch env.Error.Status {
		case "UNAVAILABLE":
			return KindModelOverloaded
		case "RESOURCE_EXHAUSTED":
			return KindRateLimited
		}
	}
	return KindInvalidRequest
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
