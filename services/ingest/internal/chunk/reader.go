package chunk

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"meetinggenius/packages/logger"

	"github.com/rs/zerolog"
)

// MissingChunkError 按序读取时遇到缺失的分块
type MissingChunkError struct {
	JobID string
	Index int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("chunk %d of job %s is missing", e.Index, e.JobID)
}

func (e *MissingChunkError) Unwrap() error {
	return ErrNotFound
}

// CorruptChunkError 分块不是合法的 base64
type CorruptChunkError struct {
	JobID string
	Index int
	Err   error
}

func (e *CorruptChunkError) Error() string {
	return fmt.Sprintf("chunk %d of job %s is not valid base64: %v", e.Index, e.JobID, e.Err)
}

func (e *CorruptChunkError) Unwrap() error {
	return e.Err
}

// Reader 按 0..total-1 的顺序读取任务的分块，解码后作为连续字节流输出
//
// 每个分块在解码进缓冲区后立即删除。缓冲区只保存当前分块尚未读出的部分，
// 内存占用与文件大小无关。
type Reader struct {
	ctx   context.Context
	store Store
	jobID string
	total int

	next     int
	buf      []byte
	consumed int64
	err      error
	log      zerolog.Logger
}

func NewReader(ctx context.Context, store Store, jobID string, total int) *Reader {
	return &Reader{
		ctx:   ctx,
		store: store,
		jobID: jobID,
		total: total,
		log:   logger.For("chunk").With().Str("job_id", jobID).Logger(),
	}
}

func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.next >= r.total {
			return 0, io.EOF
		}
		if err := r.fill(); err != nil {
			r.err = err
			return 0, err
		}
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// fill 读取下一个分块，解码、追加后删除
func (r *Reader) fill() error {
	index := r.next

	raw, err := r.store.Get(r.ctx, r.jobID, index)
	if errors.Is(err, ErrNotFound) {
		return &MissingChunkError{JobID: r.jobID, Index: index}
	}
	if err != nil {
		return fmt.Errorf("read chunk %s: %w", Key(r.jobID, index), err)
	}

	data, err := Decode(raw)
	if err != nil {
		return &CorruptChunkError{JobID: r.jobID, Index: index, Err: err}
	}

	if err := r.store.Delete(r.ctx, r.jobID, index); err != nil {
		r.log.Warn().Err(err).Int("index", index).Msg("failed to delete consumed chunk")
	}

	r.buf = data
	r.next++
	r.consumed += int64(len(data))
	r.log.Debug().Int("index", index).Int("bytes", len(data)).Int64("consumed", r.consumed).Msg("chunk consumed")
	return nil
}

// Consumed 已解码的字节数
func (r *Reader) Consumed() int64 {
	return r.consumed
}

// Decode 解码分块内容，兼容 data URL 形式（data:audio/webm;base64,....）
func Decode(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(s)
}
