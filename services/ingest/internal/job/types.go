package job

import (
	"time"

	"meetinggenius/services/ingest/internal/gemini"
	jobmodel "meetinggenius/services/ingest/internal/model/job"
)

// Job 一次提交：分块已在分块存储中，提交后由后台处理
type Job struct {
	JobID       string `json:"jobId" binding:"required,max=128,excludes=/"`
	TotalChunks int    `json:"totalChunks" binding:"gte=1"`
	MimeType    string `json:"mimeType" binding:"required,max=100"`
	Mode        string `json:"mode" binding:"required,oneof=FULL NOTES_ONLY TRANSCRIPT_ONLY"`
	Model       string `json:"model" binding:"required,max=100"`
	FileSize    int64  `json:"fileSize" binding:"gte=0"`
}

func (j Job) mode() gemini.Mode {
	return gemini.Mode(j.Mode)
}

// Record 结果存储中的终态记录；不存在记录即表示处理中
type Record struct {
	JobID      string          `json:"jobId"`
	Status     jobmodel.Status `json:"status"`
	Result     string          `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Model      string          `json:"model,omitempty"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// SubmitResponse 提交成功
type SubmitResponse struct {
	JobID  string          `json:"jobId"`
	Status jobmodel.Status `json:"status"`
}

// ResultResponse 查询结果
type ResultResponse struct {
	JobID      string          `json:"jobId"`
	Status     jobmodel.Status `json:"status"`
	Result     string          `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Model      string          `json:"model,omitempty"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

// 流水线阶段
const (
	StageCredential = "credential"
	StageUpload     = "upload"
	StagePoll       = "poll"
	StageGenerate   = "generate"
	StageDone       = "done"
)

// Progress 台账更新，零值字段不更新
type Progress struct {
	Status     jobmodel.Status
	Stage      string
	FileURI    string
	ModelUsed  string
	Result     string
	Error      string
	StartedAt  *time.Time
	FinishedAt *time.Time
}
