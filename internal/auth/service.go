package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/castrelay/castrelay/internal/common"
	pkgauth "github.com/castrelay/castrelay/pkg/auth"
	"github.com/castrelay/castrelay/pkg/config"
	"github.com/castrelay/castrelay/pkg/types"
	"github.com/castrelay/castrelay/pkg/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service handles authentication operations
type Service struct {
	db     *common.Database
	cache  *common.Cache
	config *config.AuthConfig
}

// NewService creates a new authentication service. The cache is optional.
func NewService(db *common.Database, cache *common.Cache, config *config.AuthConfig) *Service {
	return &Service{
		db:     db,
		cache:  cache,
		config: config,
	}
}

// Register creates a new user account
func (s *Service) Register(ctx context.Context, req *types.RegisterRequest) (*types.User, error) {
	var existing types.User
	if err := s.db.Where("username = ? OR email = ?", req.Username, req.Email).First(&existing).Error; err == nil {
		return nil, fmt.Errorf("user with username or email already exists")
	}

	hashed, err := utils.HashPassword(req.Password, s.config.BCryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &types.User{
		Username: req.Username,
		Email:    req.Email,
		Password: hashed,
		IsActive: true,
	}
	if err := s.db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	user.Password = ""
	return user, nil
}

// Login authenticates a user and returns a JWT token
func (s *Service) Login(ctx context.Context, req *types.LoginRequest) (*types.AuthToken, error) {
	var user types.User
	if err := s.db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("invalid credentials")
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !user.IsActive {
		return nil, fmt.Errorf("user account is disabled")
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, fmt.Errorf("invalid credentials")
	}

	token, err := utils.GenerateJWT(user.ID, s.config.JWTSecret, s.config.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &types.AuthToken{
		Token:     token,
		ExpiresAt: time.Now().Add(s.config.JWTExpiration),
		UserID:    user.ID,
	}, nil
}

// ValidateToken validates a JWT token and returns the user
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*types.User, error) {
	userID, err := utils.ValidateJWT(tokenString, s.config.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	cacheKey := fmt.Sprintf("user:%s", userID.String())
	var user types.User
	if s.cache != nil {
		if err := s.cache.Get(ctx, cacheKey, &user); err == nil {
			return &user, nil
		}
	}

	if err := s.db.Where("id = ? AND is_active = ?", userID, true).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Password = ""
	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey, &user, 10*time.Minute)
	}
	return &user, nil
}

// CreateAPIKey creates a new API key for a user. The raw key value is
// returned once and only its hash is stored.
func (s *Service) CreateAPIKey(ctx context.Context, userID uuid.UUID, name string, expiresAt *time.Time) (*types.APIKey, string, error) {
	keyValue, err := pkgauth.GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate API key: %w", err)
	}

	apiKey := &types.APIKey{
		UserID:    userID,
		Name:      name,
		KeyHash:   utils.HashAPIKey(keyValue),
		ExpiresAt: expiresAt,
		IsActive:  true,
	}
	if err := s.db.Create(apiKey).Error; err != nil {
		return nil, "", fmt.Errorf("failed to create API key: %w", err)
	}

	return apiKey, keyValue, nil
}

// ListAPIKeys returns all active API keys for a user
func (s *Service) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]types.APIKey, error) {
	var keys []types.APIKey
	if err := s.db.Where("user_id = ? AND is_active = ?", userID, true).Order("created_at DESC").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey deactivates an API key owned by the user
func (s *Service) RevokeAPIKey(ctx context.Context, userID, keyID uuid.UUID) error {
	result := s.db.Model(&types.APIKey{}).
		Where("id = ? AND user_id = ? AND is_active = ?", keyID, userID, true).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to revoke API key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("API key not found")
	}
	return nil
}

// ValidateAPIKey validates an API key and returns the associated user
func (s *Service) ValidateAPIKey(ctx context.Context, keyValue string) (*types.User, *types.APIKey, error) {
	// cheap format check before touching the database
	if !pkgauth.ValidateAPIKeyFormat(keyValue) {
		return nil, nil, fmt.Errorf("invalid API key")
	}

	keyHash := utils.HashAPIKey(keyValue)

	var apiKey types.APIKey
	if err := s.db.Preload("User").Where("key_hash = ? AND is_active = ?", keyHash, true).First(&apiKey).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, fmt.Errorf("invalid API key")
		}
		return nil, nil, fmt.Errorf("failed to validate API key: %w", err)
	}

	if apiKey.ExpiresAt != nil && time.Now().After(*apiKey.ExpiresAt) {
		return nil, nil, fmt.Errorf("API key has expired")
	}
	if !apiKey.User.IsActive {
		return nil, nil, fmt.Errorf("user account is disabled")
	}

	now := time.Now()
	apiKey.LastUsedAt = &now
	s.db.Save(&apiKey)

	apiKey.User.Password = ""
	return &apiKey.User, &apiKey, nil
}
