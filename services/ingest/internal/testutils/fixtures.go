package testutils

import (
	"context"
	"encoding/base64"
	"math/rand"
	"testing"

	"github.com/google/uuid"
)

// ChunkWriter 分块存储的写入接口
type ChunkWriter interface {
	Put(ctx context.Context, jobID string, index int, data string) error
}

// NewJobID 生成唯一的测试任务 ID
func NewJobID() string {
	return "test-" + uuid.NewString()
}

// RandomBytes 生成确定性的随机数据
func RandomBytes(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

// SeedChunks 把 data 按 sizes 切分、base64 编码后写入存储，返回分块数
func SeedChunks(t *testing.T, w ChunkWriter, jobID string, data []byte, sizes ...int) int {
	t.Helper()

	off := 0
	for i, n := range sizes {
		if off+n > len(data) {
			t.Fatalf("chunk sizes exceed data length %d", len(data))
		}
		enc := base64.StdEncoding.EncodeToString(data[off : off+n])
		if err := w.Put(context.Background(), jobID, i, enc); err != nil {
			t.Fatalf("seed chunk %d: %v", i, err)
		}
		off += n
	}
	if off != len(data) {
		t.Fatalf("chunk sizes cover %d of %d bytes", off, len(data))
	}
	return len(sizes)
}
