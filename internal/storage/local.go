package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// LocalStorage implements BlobStorage on the local filesystem
type LocalStorage struct {
	basePath string
	mutex    sync.RWMutex
}

// NewLocalStorage creates a local staging store rooted at basePath
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Error().Err(err).Str("path", basePath).Msg("failed to create staging directory")
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	log.Info().Str("path", basePath).Msg("local staging storage initialized")
	return &LocalStorage{basePath: basePath}, nil
}

// Store writes content atomically: to a temp file first, renamed into place
// once fully written
func (ls *LocalStorage) Store(ctx context.Context, path string, content io.Reader) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	fullPath := filepath.Join(ls.basePath, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := fmt.Sprintf("%s.tmp.%d", fullPath, time.Now().UnixNano())
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		tempFile.Close()
		os.Remove(tempPath)
	}()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tempFile, hasher), content)
	if err != nil {
		return 0, fmt.Errorf("failed to write content: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		return 0, fmt.Errorf("failed to finalize file: %w", err)
	}

	log.Debug().
		Str("path", path).
		Int64("size", written).
		Str("sha256", hex.EncodeToString(hasher.Sum(nil))).
		Msg("staged file stored")

	return written, nil
}

// Open returns the staged file for random-access reads
func (ls *LocalStorage) Open(ctx context.Context, path string) (File, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	fullPath := filepath.Join(ls.basePath, path)
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open staged file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat staged file: %w", err)
	}

	return &localFile{File: f, size: info.Size()}, nil
}

// Delete removes a staged file
func (ls *LocalStorage) Delete(ctx context.Context, path string) error {
	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	fullPath := filepath.Join(ls.basePath, path)
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete staged file: %w", err)
	}
	return nil
}

// Exists checks whether a staged file is present
func (ls *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	fullPath := filepath.Join(ls.basePath, path)
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type localFile struct {
	*os.File
	size int64
}

func (f *localFile) Size() int64 {
	return f.size
}
