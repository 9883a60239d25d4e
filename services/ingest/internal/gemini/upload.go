package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	headerUploadProtocol      = "X-Goog-Upload-Protocol"
	headerUploadCommand       = "X-Goog-Upload-Command"
	headerUploadOffset        = "X-Goog-Upload-Offset"
	headerUploadURL           = "X-Goog-Upload-URL"
	headerUploadContentLength = "X-Goog-Upload-Header-Content-Length"
	headerUploadContentType   = "X-Goog-Upload-Header-Content-Type"

	commandStart    = "start"
	commandUpload   = "upload"
	commandFinalize = "upload, finalize"
)

// uploadSession 一次可恢复上传的会话，只在内存中存在
type uploadSession struct {
	c      *Client
	url    string
	size   int64
	offset int64
}

// Upload 以固定块大小把 r 中的 size 字节流式上传，返回后端文件
//
// 满块使用 upload 指令发送，剩余部分（可能为 0 字节）使用 upload, finalize 发送。
// 首块在建立会话之前读取，数据源在开头就失败时不会产生上传请求。
func (c *Client) Upload(ctx context.Context, r io.Reader, size int64, mimeType, displayName string) (*File, error) {
	if size < 0 {
		return nil, &Error{Kind: KindUploadInit, Message: fmt.Sprintf("invalid file size %d", size)}
	}

	buf := make([]byte, c.blockSize)
	n, last, err := readBlock(r, buf)
	if err != nil {
		return nil, err
	}

	sess, err := c.startUpload(ctx, size, mimeType, displayName)
	if err != nil {
		return nil, err
	}

	for !last {
		if err := sess.send(ctx, buf[:n]); err != nil {
			return nil, err
		}
		if n, last, err = readBlock(r, buf); err != nil {
			return nil, err
		}
	}

	return sess.finalize(ctx, buf[:n])
}

// readBlock 读满 buf；数据耗尽时 last 为 true
func readBlock(r io.Reader, buf []byte) (n int, last bool, err error) {
	n, err = io.ReadFull(r, buf)
	switch {
	case err == nil:
		return n, false, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return n, true, nil
	default:
		return n, false, err
	}
}

// startUpload 声明总长度与类型，获取会话 URL
func (c *Client) startUpload(ctx context.Context, size int64, mimeType, displayName string) (*uploadSession, error) {
	endpoint := withKey(fmt.Sprintf("%s/upload/%s/files", c.baseURL, apiVersion), c.key)

	header := http.Header{}
	header.Set(headerUploadProtocol, "resumable")
	header.Set(headerUploadCommand, commandStart)
	header.Set(headerUploadContentLength, strconv.FormatInt(size, 10))
	header.Set(headerUploadContentType, mimeType)
	header.Set("Content-Type", "application/json")

	payload, err := json.Marshal(map[string]any{
		"file": map[string]string{"display_name": displayName},
	})
	if err != nil {
		return nil, err
	}

	resp, body, err := c.do(ctx, http.MethodPost, endpoint, payload, header)
	if err != nil {
		return nil, &Error{Kind: KindUploadInit, Err: err}
	}
	if !isSuccess(resp.StatusCode) {
		return nil, &Error{Kind: KindUploadInit, StatusCode: resp.StatusCode, Body: string(body)}
	}

	sessionURL := resp.Header.Get(headerUploadURL)
	if sessionURL == "" {
		return nil, &Error{Kind: KindUploadInit, StatusCode: resp.StatusCode, Message: "response has no upload url"}
	}
	if strings.HasPrefix(sessionURL, "/") {
		sessionURL = c.baseURL + sessionURL
	}

	c.log.Debug().Int64("size", size).Str("mime_type", mimeType).Msg("upload session started")
	return &uploadSession{c: c, url: withKey(sessionURL, c.key), size: size}, nil
}

// send 在当前偏移处发送一个满块，成功后偏移前移
func (s *uploadSession) send(ctx context.Context, block []byte) error {
	if s.offset+int64(len(block)) > s.size {
		return &Error{
			Kind:    KindUploadChunk,
			Offset:  s.offset,
			Message: fmt.Sprintf("block of %d bytes exceeds declared size %d", len(block), s.size),
		}
	}

	resp, body, err := s.put(ctx, commandUpload, block)
	if err != nil {
		return &Error{Kind: KindUploadChunk, Offset: s.offset, Err: err}
	}
	if !isSuccess(resp.StatusCode) {
		return &Error{Kind: KindUploadChunk, Offset: s.offset, StatusCode: resp.StatusCode, Body: string(body)}
	}

	s.offset += int64(len(block))
	s.c.log.Debug().Int64("offset", s.offset).Int64("size", s.size).Msg("upload block accepted")
	return nil
}

// finalize 发送剩余字节并结束会话
func (s *uploadSession) finalize(ctx context.Context, rest []byte) (*File, error) {
	if total := s.offset + int64(len(rest)); total != s.size {
		return nil, &Error{
			Kind:    KindUploadFinalize,
			Offset:  s.offset,
			Message: fmt.Sprintf("uploaded %d bytes but declared %d", total, s.size),
		}
	}

	resp, body, err := s.put(ctx, commandFinalize, rest)
	if err != nil {
		return nil, &Error{Kind: KindUploadFinalize, Offset: s.offset, Err: err}
	}
	if !isSuccess(resp.StatusCode) {
		return nil, &Error{Kind: KindUploadFinalize, Offset: s.offset, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out struct {
		File File `json:"file"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Kind: KindUploadFinalize, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	if out.File.URI == "" {
		return nil, &Error{Kind: KindUploadFinalize, StatusCode: resp.StatusCode, Message: "response has no file uri", Body: string(body)}
	}

	s.offset += int64(len(rest))
	s.c.log.Info().Str("file", out.File.Name).Int64("size", s.size).Msg("upload finalized")
	return &out.File, nil
}

func (s *uploadSession) put(ctx context.Context, command string, data []byte) (*http.Response, []byte, error) {
	header := http.Header{}
	header.Set(headerUploadCommand, command)
	header.Set(headerUploadOffset, strconv.FormatInt(s.offset, 10))
	return s.c.do(ctx, http.MethodPost, s.url, data, header)
}
