// Package filter classifies heap object type names so that rules can skip
// runtime noise and point at application code.
package filter

import (
	"strings"
	"sync"
)

// Category represents the category of an object type.
type Category int

const (
	// CategoryUnknown indicates an empty or unrecognised type name.
	CategoryUnknown Category = iota
	// CategoryPrimitive indicates primitive arrays such as byte[].
	CategoryPrimitive
	// CategoryRuntime indicates JDK and runtime internal types.
	CategoryRuntime
	// CategoryFramework indicates framework internals such as pool arenas.
	CategoryFramework
	// CategoryApplication indicates everything else.
	CategoryApplication
)

// String returns the string representation of the category.
func (c Category) String() string {
	switch c {
	case CategoryPrimitive:
		return "primitive"
	case CategoryRuntime:
		return "runtime"
	case CategoryFramework:
		return "framework"
	case CategoryApplication:
		return "application"
	default:
		return "unknown"
	}
}

var primitiveArrays = map[string]bool{
	"byte[]":    true,
	"char[]":    true,
	"int[]":     true,
	"long[]":    true,
	"short[]":   true,
	"boolean[]": true,
	"float[]":   true,
	"double[]":  true,
	"[]byte":    true,
	"[]uint8":   true,
}

var runtimePrefixes = []string{
	"java.",
	"javax.",
	"sun.",
	"com.sun.",
	"jdk.",
	"runtime.",
	"sync.",
}

var frameworkPrefixes = []string{
	"org.springframework.aop.framework.",
	"org.springframework.beans.factory.support.",
	"io.netty.buffer.Pool",
	"io.netty.util.internal.",
	"com.google.common.collect.",
	"com.google.common.cache.",
	"ch.qos.logback.core.",
	"com.fasterxml.jackson.databind.cfg.",
	"net.bytebuddy.",
}

// TypeFilter classifies type names. It is safe for concurrent use.
type TypeFilter struct {
	mu                sync.RWMutex
	applicationPrefix []string
	cache             map[string]Category
	cacheLimit        int
}

// NewTypeFilter creates a TypeFilter with the built-in rules.
func NewTypeFilter() *TypeFilter {
	return &TypeFilter{
		cache:      make(map[string]Category),
		cacheLimit: 10000,
	}
}

// Classify returns the category of a type name.
func (f *TypeFilter) Classify(typeName string) Category {
	if typeName == "" {
		return CategoryUnknown
	}

	f.mu.RLock()
	cat, ok := f.cache[typeName]
	f.mu.RUnlock()
	if ok {
		return cat
	}

	cat = f.classify(typeName)

	f.mu.Lock()
	if len(f.cache) < f.cacheLimit {
		f.cache[typeName] = cat
	}
	f.mu.Unlock()
	return cat
}

func (f *TypeFilter) classify(typeName string) Category {
	if primitiveArrays[typeName] {
		return CategoryPrimitive
	}

	// explicit application prefixes win over the built-in lists
	f.mu.RLock()
	app := f.applicationPrefix
	f.mu.RUnlock()
	for _, p := range app {
		if strings.HasPrefix(typeName, p) {
			return CategoryApplication
		}
	}

	for _, p := range frameworkPrefixes {
		if strings.HasPrefix(typeName, p) {
			return CategoryFramework
		}
	}
	for _, p := range runtimePrefixes {
		if strings.HasPrefix(typeName, p) {
			return CategoryRuntime
		}
	}
	return CategoryApplication
}

// IsPrimitiveArray reports whether typeName is a primitive array.
func (f *TypeFilter) IsPrimitiveArray(typeName string) bool {
	return f.Classify(typeName) == CategoryPrimitive
}

// IsApplication reports whether typeName belongs to application code.
func (f *TypeFilter) IsApplication(typeName string) bool {
	return f.Classify(typeName) == CategoryApplication
}

// AddApplicationPrefix forces types under prefix into CategoryApplication.
func (f *TypeFilter) AddApplicationPrefix(prefix string) {
	if prefix == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range f.applicationPrefix {
		if p == prefix {
			return
		}
	}
	f.applicationPrefix = append(f.applicationPrefix, prefix)
	f.cache = make(map[string]Category)
}

// Default is the shared filter instance.
var Default = NewTypeFilter()

// Classify classifies a type name using the default filter.
func Classify(typeName string) Category {
	return Default.Classify(typeName)
}

// IsPrimitiveArray checks typeName against the default filter.
func IsPrimitiveArray(typeName string) bool {
	return Default.IsPrimitiveArray(typeName)
}
