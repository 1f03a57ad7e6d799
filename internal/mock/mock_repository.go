package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dump-correlator/internal/report"
	"github.com/dump-correlator/internal/repository"
)

// MockReportRepository is a mock implementation of the ReportRepository interface.
type MockReportRepository struct {
	mock.Mock
}

// SaveReport mocks the SaveReport method.
func (m *MockReportRepository) SaveReport(ctx context.Context, doc *report.Document) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

// GetReport mocks the GetReport method.
func (m *MockReportRepository) GetReport(ctx context.Context, runID string) (*report.Document, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*report.Document), args.Error(1)
}

// ListReports mocks the ListReports method.
func (m *MockReportRepository) ListReports(ctx context.Context, limit int) ([]repository.ReportSummary, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.ReportSummary), args.Error(1)
}

// ExpectSaveReport sets up an expectation for SaveReport of the given run.
func (m *MockReportRepository) ExpectSaveReport(runID string, err error) *mock.Call {
	return m.On("SaveReport", mock.Anything, mock.MatchedBy(func(doc *report.Document) bool {
		return doc.RunID == runID
	})).Return(err)
}

// ExpectAnySaveReport sets up an expectation for any SaveReport call.
func (m *MockReportRepository) ExpectAnySaveReport(err error) *mock.Call {
	return m.On("SaveReport", mock.Anything, mock.Anything).Return(err)
}

// ExpectGetReport sets up an expectation for GetReport.
func (m *MockReportRepository) ExpectGetReport(runID string, doc *report.Document, err error) *mock.Call {
	return m.On("GetReport", mock.Anything, runID).Return(doc, err)
}
