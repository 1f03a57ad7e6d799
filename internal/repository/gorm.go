package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/dump-correlator/internal/report"
	"github.com/dump-correlator/pkg/compression"
	apperrors "github.com/dump-correlator/pkg/errors"
	"github.com/dump-correlator/pkg/model"
)

// ErrReportNotFound is returned when no report is stored for a run id.
var ErrReportNotFound = errors.New("report not found")

// GormReportRepository implements ReportRepository using GORM.
type GormReportRepository struct {
	db       *gorm.DB
	compress bool
}

// NewGormReportRepository creates a new GormReportRepository. When compress
// is set, report bodies are stored zstd-compressed.
func NewGormReportRepository(db *gorm.DB, compress bool) *GormReportRepository {
	return &GormReportRepository{db: db, compress: compress}
}

// SaveReport stores doc under its run id.
func (r *GormReportRepository) SaveReport(ctx context.Context, doc *report.Document) error {
	body, err := report.Marshal(doc)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeArchiveError, "failed to encode report", err)
	}
	encoding := EncodingJSON
	if r.compress {
		if body, err = compression.Compress(compression.TypeZstd, body); err != nil {
			return apperrors.Wrap(apperrors.CodeArchiveError, "failed to compress report", err)
		}
		encoding = EncodingZstd
	}

	record := &CorrelationReport{
		RunID:    doc.RunID,
		Critical: doc.Counts[model.SeverityCritical.String()],
		Warning:  doc.Counts[model.SeverityWarning.String()],
		Info:     doc.Counts[model.SeverityInfo.String()],
		Encoding: encoding,
		Body:     body,
	}
	if doc.Stats != nil {
		record.Threads = doc.Stats.Threads
		record.Objects = doc.Stats.Objects
	}
	if !doc.GeneratedAt.IsZero() {
		record.CreatedAt = doc.GeneratedAt
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeArchiveError, "failed to save report", err)
	}
	return nil
}

// GetReport loads the document stored for runID.
func (r *GormReportRepository) GetReport(ctx context.Context, runID string) (*report.Document, error) {
	var record CorrelationReport
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrReportNotFound, runID)
		}
		return nil, apperrors.Wrap(apperrors.CodeArchiveError, "failed to load report", err)
	}

	body := record.Body
	if record.Encoding == EncodingZstd {
		if body, err = compression.Decompress(body); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeArchiveError, "failed to decompress report", err)
		}
	}

	var doc report.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeArchiveError, "failed to decode report", err)
	}
	return &doc, nil
}

// ListReports returns the most recent summaries, newest first.
func (r *GormReportRepository) ListReports(ctx context.Context, limit int) ([]ReportSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	var records []CorrelationReport
	err := r.db.WithContext(ctx).
		Omit("body").
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeArchiveError, "failed to list reports", err)
	}

	summaries := make([]ReportSummary, len(records))
	for i := range records {
		summaries[i] = records[i].ToSummary()
	}
	return summaries, nil
}
