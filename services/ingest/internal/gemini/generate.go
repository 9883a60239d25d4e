package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Generation 生成结果
type Generation struct {
	Text  string // JSON 文本
	Model string // 实际成功的模型
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
	SafetySettings   []safetySetting  `json:"safetySettings"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type fileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	ResponseSchema   *schema `json:"responseSchema"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
}

func newGenerateRequest(f *File, mode Mode) *generateRequest {
	return &generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{FileData: &fileData{MimeType: f.MimeType, FileURI: f.URI}},
				{Text: BuildPrompt(mode)},
			},
		}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   responseSchema(),
		},
		SafetySettings: safetySettings(),
	}
}

// Generate 依次尝试降级链上的模型
//
// 每个模型在过载或限流时最多重试 MaxRetries 次，第 n 次重试前等待 n 倍基础延迟；
// 重试用尽后换下一个模型。非瞬时错误直接终止整条链。
func (c *Client) Generate(ctx context.Context, f *File, mode Mode, model string) (*Generation, error) {
	chain := c.fallbacks.Chain(model)
	req := newGenerateRequest(f, mode)

	var lastErr error
	for i, m := range chain {
		text, err := c.generateWithRetry(ctx, m, req)
		if err == nil {
			if i > 0 {
				c.log.Info().Str("requested", model).Str("model", m).Msg("generated with fallback model")
			}
			return &Generation{Text: text, Model: m}, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
		c.log.Warn().Err(err).Str("model", m).Msg("model unavailable, trying next in chain")
	}

	return nil, &Error{
		Kind:    KindAllModelsExhausted,
		Message: "tried " + strings.Join(chain, ", "),
		Models:  chain,
		Err:     lastErr,
	}
}

func (c *Client) generateWithRetry(ctx context.Context, model string, req *generateRequest) (string, error) {
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.retryBaseDelay
			c.log.Debug().Str("model", model).Int("attempt", attempt).Dur("delay", delay).Msg("retrying generation")
			if serr := c.sleep(ctx, delay); serr != nil {
				return "", serr
			}
		}

		var text string
		text, err = c.generateOnce(ctx, model, req)
		if err == nil || !IsTransient(err) {
			return text, err
		}
	}
	return "", err
}

func (c *Client) generateOnce(ctx context.Context, model string, req *generateRequest) (string, error) {
	endpoint := withKey(fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, apiVersion, url.PathEscape(model)), c.key)

	resp, body, err := c.postJSON(ctx, endpoint, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &Error{Kind: KindTransport, Model: model, Err: err}
	}
	if !isSuccess(resp.StatusCode) {
		return "", &Error{
			Kind:       classifyGenerate(resp.StatusCode, parseEnvelope(body)),
			Model:      model,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &Error{Kind: KindInvalidRequest, Model: model, Message: "decode response", Err: err}
	}

	var b strings.Builder
	if len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			b.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		c.log.Warn().Str("model", model).Msg("empty generation, returning empty result")
		return EmptyResult, nil
	}
	return text, nil
}
