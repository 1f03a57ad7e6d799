// Package parser defines the interfaces for parsing dump snapshots.
package parser

import (
	"bufio"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/dump-correlator/pkg/model"
)

// ThreadParser turns thread dump text into thread snapshots.
type ThreadParser interface {
	// ParseThreads parses a thread dump. On a FormatError no partial result
	// is returned.
	ParseThreads(ctx context.Context, reader io.Reader) ([]model.ThreadSnapshot, error)

	// Name returns the name of this parser.
	Name() string
}

// HeapParser turns heap dump text into object records.
type HeapParser interface {
	// ParseHeap parses a heap dump. On a FormatError no partial result is
	// returned.
	ParseHeap(ctx context.Context, reader io.Reader) ([]model.ObjectRecord, error)

	// Name returns the name of this parser.
	Name() string
}

// Registry holds registered parsers keyed by format name.
type Registry struct {
	mu      sync.RWMutex
	threads map[string]ThreadParser
	heaps   map[string]HeapParser
}

// NewRegistry creates a new parser Registry.
func NewRegistry() *Registry {
	return &Registry{
		threads: make(map[string]ThreadParser),
		heaps:   make(map[string]HeapParser),
	}
}

// RegisterThreads registers a thread dump parser under format.
func (r *Registry) RegisterThreads(format string, p ThreadParser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[format] = p
}

// RegisterHeap registers a heap dump parser under format.
func (r *Registry) RegisterHeap(format string, p HeapParser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heaps[format] = p
}

// Threads returns the thread dump parser for format.
func (r *Registry) Threads(format string) (ThreadParser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.threads[format]; ok {
		return p, nil
	}
	return nil, unsupported("thread", format)
}

// Heap returns the heap dump parser for format.
func (r *Registry) Heap(format string) (HeapParser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.heaps[format]; ok {
		return p, nil
	}
	return nil, unsupported("heap", format)
}

// Formats returns the registered thread and heap formats, sorted.
func (r *Registry) Formats() (threads, heaps []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for f := range r.threads {
		threads = append(threads, f)
	}
	for f := range r.heaps {
		heaps = append(heaps, f)
	}
	sort.Strings(threads)
	sort.Strings(heaps)
	return threads, heaps
}

// MaxLineSize bounds a single input line.
const MaxLineSize = 4 * 1024 * 1024

// CancelCheckInterval is how many lines parsers read between context checks.
const CancelCheckInterval = 1024

// NewLineScanner returns a scanner sized for long dump lines.
func NewLineScanner(reader io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), MaxLineSize)
	return scanner
}
