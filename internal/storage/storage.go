// Package storage reads capture inputs from and writes reports to object
// storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dump-correlator/pkg/config"
	apperrors "github.com/dump-correlator/pkg/errors"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// Storage defines the object storage operations used by the correlator.
type Storage interface {
	// Upload stores the content of reader under key.
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Download opens the object at key. The caller closes the reader.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns a URL or path for key.
	GetURL(key string) string
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeCOS   StorageType = "cos"
)

// RemoteScheme prefixes input locations that live in the configured storage.
const RemoteScheme = "cos://"

// NewStorage creates a new Storage instance based on the configuration.
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "invalid storage config", err)
	}

	switch StorageType(cfg.Type) {
	case StorageTypeCOS:
		return NewCOSStorage(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
		})
	default:
		return NewLocalStorage(cfg.LocalPath)
	}
}

// ValidateConfig validates the storage configuration.
func ValidateConfig(cfg *config.StorageConfig) error {
	if cfg == nil {
		return fmt.Errorf("storage config is nil")
	}

	storageType := StorageType(cfg.Type)
	if storageType == "" {
		storageType = StorageTypeLocal
	}

	switch storageType {
	case StorageTypeCOS:
		if cfg.Bucket == "" {
			return fmt.Errorf("COS bucket is required")
		}
		if cfg.Region == "" {
			return fmt.Errorf("COS region is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return fmt.Errorf("COS credentials are required")
		}
	case StorageTypeLocal:
		if cfg.LocalPath == "" {
			return fmt.Errorf("local storage path is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
	return nil
}

// IsRemote reports whether location names an object in storage.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, RemoteScheme)
}

// OpenInput opens a capture input. Locations prefixed with RemoteScheme are
// read from store, anything else is a local file path.
func OpenInput(ctx context.Context, store Storage, location string) (io.ReadCloser, error) {
	if !IsRemote(location) {
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		return f, nil
	}

	key := strings.TrimPrefix(location, RemoteScheme)
	if key == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "empty object key in "+location)
	}
	if store == nil {
		return nil, apperrors.New(apperrors.CodeStorageError, "no storage configured for "+location)
	}
	rc, err := store.Download(ctx, key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to download "+location, err)
	}
	return rc, nil
}
