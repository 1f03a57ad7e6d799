// Package repository archives correlation reports in a SQL database.
package repository

import (
	"context"
	"time"

	"github.com/dump-correlator/internal/report"
)

// ReportRepository stores rendered report documents.
type ReportRepository interface {
	// SaveReport stores doc under its run id.
	SaveReport(ctx context.Context, doc *report.Document) error

	// GetReport loads the document stored for runID.
	GetReport(ctx context.Context, runID string) (*report.Document, error)

	// ListReports returns the most recent summaries, newest first.
	ListReports(ctx context.Context, limit int) ([]ReportSummary, error)
}

// ReportSummary is the listing view of an archived report.
type ReportSummary struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Critical  int       `json:"critical"`
	Warning   int       `json:"warning"`
	Info      int       `json:"info"`
	Threads   int       `json:"threads"`
	Objects   int       `json:"objects"`
}
