package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dump-correlator/pkg/config"
	apperrors "github.com/dump-correlator/pkg/errors"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.StorageConfig
		wantErr string
	}{
		{name: "nil", cfg: nil, wantErr: "nil"},
		{name: "local", cfg: &config.StorageConfig{Type: "local", LocalPath: "/tmp"}},
		{name: "empty type defaults to local", cfg: &config.StorageConfig{LocalPath: "/tmp"}},
		{name: "local without path", cfg: &config.StorageConfig{Type: "local"}, wantErr: "local storage path"},
		{name: "unknown", cfg: &config.StorageConfig{Type: "s3"}, wantErr: "unsupported storage type"},
		{name: "cos without bucket", cfg: &config.StorageConfig{Type: "cos", Region: "ap-guangzhou"}, wantErr: "bucket"},
		{name: "cos without region", cfg: &config.StorageConfig{Type: "cos", Bucket: "b"}, wantErr: "region"},
		{
			name:    "cos without credentials",
			cfg:     &config.StorageConfig{Type: "cos", Bucket: "b", Region: "ap-guangzhou"},
			wantErr: "credentials",
		},
		{
			name: "cos",
			cfg: &config.StorageConfig{
				Type: "cos", Bucket: "b", Region: "ap-guangzhou", SecretID: "id", SecretKey: "key",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewStorage(t *testing.T) {
	local, err := NewStorage(&config.StorageConfig{Type: "local", LocalPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, local)

	remote, err := NewStorage(&config.StorageConfig{
		Type: "cos", Bucket: "my-bucket", Region: "ap-guangzhou", SecretID: "id", SecretKey: "key",
	})
	require.NoError(t, err)
	assert.IsType(t, &COSStorage{}, remote)

	_, err = NewStorage(&config.StorageConfig{Type: "s3"})
	assert.Equal(t, apperrors.CodeStorageError, apperrors.GetErrorCode(err))
}

func TestNewCOSStorage_Validation(t *testing.T) {
	_, err := NewCOSStorage(&COSConfig{Region: "ap-guangzhou", SecretID: "id", SecretKey: "key"})
	assert.ErrorContains(t, err, "bucket and region are required")

	_, err = NewCOSStorage(&COSConfig{Bucket: "b", Region: "ap-guangzhou"})
	assert.ErrorContains(t, err, "credentials are required")
}

func TestCOSStorage_GetURL(t *testing.T) {
	s, err := NewCOSStorage(&COSConfig{
		Bucket: "my-bucket", Region: "ap-guangzhou", SecretID: "id", SecretKey: "key",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://my-bucket.cos.ap-guangzhou.myqcloud.com/captures/heap.txt",
		s.GetURL("captures/heap.txt"))
}

func TestLocalStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Upload(ctx, "reports/run-1.json", strings.NewReader(`{"ok":true}`), "application/json"))

	ok, err := s.Exists(ctx, "reports/run-1.json")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Download(ctx, "reports/run-1.json")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	require.NoError(t, s.Delete(ctx, "reports/run-1.json"))
	require.NoError(t, s.Delete(ctx, "reports/run-1.json"), "deleting twice is fine")

	ok, err = s.Exists(ctx, "reports/run-1.json")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Download(ctx, "reports/run-1.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorage_UploadLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir)
	require.NoError(t, err)

	require.NoError(t, s.Upload(context.Background(), "a.txt", bytes.NewReader([]byte("x")), ""))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name())
}

func TestLocalStorage_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../outside.txt", "a/../../outside.txt"} {
		t.Run(key, func(t *testing.T) {
			err := s.Upload(ctx, key, strings.NewReader("x"), "")
			assert.Error(t, err)
		})
	}
}

func TestLocalStorage_CanceledContext(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Download(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Upload(ctx, "x", strings.NewReader(""), ""), context.Canceled)
}

func TestOpenInput(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStorage(filepath.Join(dir, "store"))
	require.NoError(t, err)
	require.NoError(t, s.Upload(ctx, "captures/threads.txt", strings.NewReader("remote"), ""))

	localPath := filepath.Join(dir, "threads.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("local"), 0644))

	tests := []struct {
		name     string
		store    Storage
		location string
		want     string
		wantCode string
	}{
		{name: "local file", store: s, location: localPath, want: "local"},
		{name: "remote object", store: s, location: "cos://captures/threads.txt", want: "remote"},
		{name: "remote without store", store: nil, location: "cos://captures/threads.txt", wantCode: apperrors.CodeStorageError},
		{name: "missing remote object", store: s, location: "cos://nope", wantCode: apperrors.CodeStorageError},
		{name: "empty key", store: s, location: "cos://", wantCode: apperrors.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := OpenInput(ctx, tt.store, tt.location)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, apperrors.GetErrorCode(err))
				return
			}
			require.NoError(t, err)
			defer rc.Close()
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}

	_, err = OpenInput(ctx, s, filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
