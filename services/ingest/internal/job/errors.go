package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"meetinggenius/services/ingest/internal/gemini"
)

var (
	ErrDuplicateJob   = errors.New("job already submitted")
	ErrJobNotFound    = errors.New("job not found")
	ErrResultExists   = errors.New("result already recorded")
	ErrResultNotFound = errors.New("result not found")
)

// StageError 记录失败发生的阶段
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf 返回错误所在阶段
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// SanitizeError 生成写入 ERROR 记录的可读信息
//
// 后端错误体形如 {"error": {"message": "..."}} 时提取其中的 message，
// message 本身仍是同样的信封时继续向内提取。
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	var ge *gemini.Error
	if errors.As(err, &ge) {
		switch {
		case ge.Kind == gemini.KindAllModelsExhausted && ge.Err != nil:
			return fmt.Sprintf("all models are busy (tried %s): %s", strings.Join(ge.Models, ", "), SanitizeError(ge.Err))
		case ge.Body != "":
			if msg, ok := envelopeMessage(ge.Body); ok {
				if ge.Kind == gemini.KindCredentialRejected && ge.Message != "" {
					return fmt.Sprintf("%s (%s)", msg, ge.Message)
				}
				return msg
			}
		}
	}

	text := err.Error()
	if msg, ok := envelopeMessage(text); ok {
		return msg
	}
	return text
}

const maxEnvelopeDepth = 4

func envelopeMessage(s string) (string, bool) {
	found := false
	for depth := 0; depth < maxEnvelopeDepth; depth++ {
		i := strings.Index(s, "{")
		if i < 0 {
			break
		}
		var env struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(strings.NewReader(s[i:])).Decode(&env); err != nil || env.Error.Message == "" {
			break
		}
		s = env.Error.Message
		found = true
	}
	return strings.TrimSpace(s), found
}
