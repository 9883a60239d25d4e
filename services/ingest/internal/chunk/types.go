package chunk

// PutChunkRequest 写入一个分块
type PutChunkRequest struct {
	Data string `json:"data" binding:"required"`
}

// PutChunkResponse 写入结果
type PutChunkResponse struct {
	JobID string `json:"jobId"`
	Index int    `json:"index"`
	Bytes int    `json:"bytes"`
}
