package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// WaitForActive 按固定间隔轮询文件状态，直到 ACTIVE、FAILED、404 或次数用尽
//
// 单次轮询的网络或服务端错误只消耗一次机会，不会中止等待。
func (c *Client) WaitForActive(ctx context.Context, f *File) (*File, error) {
	target := c.fileURL(f)
	var lastErr error

	for attempt := 1; attempt <= c.pollMaxAttempts; attempt++ {
		cur, err := c.getFile(ctx, target)
		switch {
		case err == nil && cur.State == StateActive:
			c.log.Debug().Str("file", cur.Name).Int("attempt", attempt).Msg("file is active")
			return cur, nil
		case err == nil && cur.State == StateFailed:
			fe := &Error{Kind: KindFileProcessingFailed, State: cur.State}
			if cur.Error != nil {
				fe.Message = cur.Error.Message
			}
			return nil, fe
		case errors.Is(err, ErrFileNotFound):
			return nil, err
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			c.log.Debug().Err(err).Int("attempt", attempt).Msg("file poll failed, will retry")
		}

		if attempt < c.pollMaxAttempts {
			if err := c.sleep(ctx, c.pollInterval); err != nil {
				return nil, err
			}
		}
	}

	return nil, &Error{
		Kind:    KindPollTimeout,
		Message: fmt.Sprintf("%s not active after %d attempts", f.Name, c.pollMaxAttempts),
		Err:     lastErr,
	}
}

func (c *Client) getFile(ctx context.Context, target string) (*File, error) {
	resp, body, err := c.do(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, &Error{Kind: KindFileNotFound, StatusCode: resp.StatusCode, Body: string(body)}
	}
	if !isSuccess(resp.StatusCode) {
		return nil, &Error{Kind: KindTransport, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var f File
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, &Error{Kind: KindTransport, Message: "decode file", Err: err}
	}
	return &f, nil
}

// fileURL 优先使用文件 URI，否则由资源名拼接
func (c *Client) fileURL(f *File) string {
	target := f.URI
	if target == "" {
		target = fmt.Sprintf("%s/%s/%s", c.baseURL, apiVersion, strings.TrimPrefix(f.Name, "/"))
	}
	return withKey(target, c.key)
}
