package mock

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/dump-correlator/pkg/model"
)

// MockThreadParser is a mock implementation of the parser.ThreadParser interface.
type MockThreadParser struct {
	mock.Mock
}

// ParseThreads mocks the ParseThreads method.
func (m *MockThreadParser) ParseThreads(ctx context.Context, reader io.Reader) ([]model.ThreadSnapshot, error) {
	args := m.Called(ctx, reader)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ThreadSnapshot), args.Error(1)
}

// Name mocks the Name method.
func (m *MockThreadParser) Name() string {
	args := m.Called()
	return args.String(0)
}

// ExpectParseThreads sets up an expectation for ParseThreads.
func (m *MockThreadParser) ExpectParseThreads(threads []model.ThreadSnapshot, err error) *mock.Call {
	return m.On("ParseThreads", mock.Anything, mock.Anything).Return(threads, err)
}

// ExpectName sets up an expectation for Name.
func (m *MockThreadParser) ExpectName(name string) *mock.Call {
	return m.On("Name").Return(name)
}

// MockHeapParser is a mock implementation of the parser.HeapParser interface.
type MockHeapParser struct {
	mock.Mock
}

// ParseHeap mocks the ParseHeap method.
func (m *MockHeapParser) ParseHeap(ctx context.Context, reader io.Reader) ([]model.ObjectRecord, error) {
	args := m.Called(ctx, reader)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ObjectRecord), args.Error(1)
}

// Name mocks the Name method.
func (m *MockHeapParser) Name() string {
	args := m.Called()
	return args.String(0)
}

// ExpectParseHeap sets up an expectation for ParseHeap.
func (m *MockHeapParser) ExpectParseHeap(objects []model.ObjectRecord, err error) *mock.Call {
	return m.On("ParseHeap", mock.Anything, mock.Anything).Return(objects, err)
}

// ExpectName sets up an expectation for Name.
func (m *MockHeapParser) ExpectName(name string) *mock.Call {
	return m.On("Name").Return(name)
}
