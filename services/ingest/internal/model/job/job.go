// Package job 任务台账模型
package job

import (
	"time"
)

// Status 任务状态
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
)

// Terminal 是否为终态
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// IngestJob 一次提交的任务及其处理进度
type IngestJob struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	JobID       string `gorm:"type:varchar(128);uniqueIndex;not null" json:"jobId"`
	TotalChunks int    `gorm:"not null" json:"totalChunks"`
	MimeType    string `gorm:"type:varchar(100);not null" json:"mimeType"`
	Mode        string `gorm:"type:varchar(20);not null" json:"mode"`
	Model       string `gorm:"type:varchar(100);not null" json:"model"`
	FileSize    int64  `gorm:"not null" json:"fileSize"`
	Status      Status `gorm:"type:varchar(20);not null;index" json:"status"`
	// 当前或失败时所处的阶段
	Stage     string `gorm:"type:varchar(32)" json:"stage,omitempty"`
	FileURI   string `gorm:"type:varchar(500)" json:"fileUri,omitempty"`
	ModelUsed string `gorm:"type:varchar(100)" json:"modelUsed,omitempty"`
	// 终态结果，result_store=postgres 时作为结果存储
	Result     string     `gorm:"type:text" json:"result,omitempty"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// TableName 指定表名
func (IngestJob) TableName() string {
	return "ingest_jobs"
}
