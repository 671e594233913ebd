package models

import (
	"time"
)

// AccessLog is one observed HTTP request. Rows have no primary key and are
// never updated; the dedup key is (user_id, path, request_method, response).
type AccessLog struct {
	Time          time.Time `gorm:"column:time;not null;index;index:idx_access_logs_dedup,priority:5" json:"time"`
	UserID        string    `gorm:"column:user_id;type:varchar(7);not null;index;index:idx_access_logs_dedup,priority:1" json:"user_id"`
	RequestMethod string    `gorm:"column:request_method;type:varchar(10);not null;index:idx_access_logs_method_path,priority:1;index:idx_access_logs_dedup,priority:3" json:"request_method"`
	Path          string    `gorm:"column:path;type:text;not null;index:idx_access_logs_method_path,priority:2;index:idx_access_logs_dedup,priority:2" json:"path"`
	Response      int       `gorm:"column:response;not null;index:idx_access_logs_dedup,priority:4" json:"response"`
}

type User struct {
	ID    string   `gorm:"primaryKey;type:varchar(7)" json:"id"`
	Name  string   `gorm:"type:text;not null" json:"name"`
	Email string   `gorm:"type:text;not null" json:"email"`
	Roles []string `gorm:"serializer:json;type:jsonb" json:"roles"`
}

// ArchiveCheckpoint records how far the archiver has exported access_logs.
type ArchiveCheckpoint struct {
	Name      string    `gorm:"primaryKey;type:varchar(64);not null"`
	Watermark time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (AccessLog) TableName() string {
	return "access_logs"
}

func (User) TableName() string {
	return "users"
}

func (ArchiveCheckpoint) TableName() string {
	return "archive_checkpoints"
}
