package model

import (
	"meetinggenius/services/ingest/internal/model/job"

	"gorm.io/gorm"
)

func InitTable(db *gorm.DB) error {
	// 自动迁移数据库表结构
	return db.AutoMigrate(
		// 任务台账
		&job.IngestJob{},
	)
}
