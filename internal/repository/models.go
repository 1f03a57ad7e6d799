package repository

import (
	"time"
)

// Report body encodings.
const (
	EncodingJSON = "json"
	EncodingZstd = "zstd"
)

// CorrelationReport represents the correlation_reports table.
type CorrelationReport struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunID     string    `gorm:"column:run_id;type:varchar(64);uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	Critical  int       `gorm:"column:critical"`
	Warning   int       `gorm:"column:warning"`
	Info      int       `gorm:"column:info"`
	Threads   int       `gorm:"column:threads"`
	Objects   int       `gorm:"column:objects"`
	Encoding  string    `gorm:"column:encoding;type:varchar(16)"`
	Body      []byte    `gorm:"column:body"`
}

// TableName returns the table name for CorrelationReport.
func (CorrelationReport) TableName() string {
	return "correlation_reports"
}

// ToSummary converts the row to its listing view.
func (r *CorrelationReport) ToSummary() ReportSummary {
	return ReportSummary{
		RunID:     r.RunID,
		CreatedAt: r.CreatedAt,
		Critical:  r.Critical,
		Warning:   r.Warning,
		Info:      r.Info,
		Threads:   r.Threads,
		Objects:   r.Objects,
	}
}
