package storage

import (
	"fmt"

	"github.com/castrelay/castrelay/pkg/config"
)

// NewStorage creates the staging storage backend named by the configuration.
// An empty type defaults to local filesystem storage.
func NewStorage(cfg *config.StorageConfig) (BlobStorage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
