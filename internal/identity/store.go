// Package identity is the Postgres-backed identity store: user profiles,
// account lookups and refresh tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/models"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrTokenNotFound   = errors.New("refresh token not found")
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetByID(ctx context.Context, id string) (*entitlement.Profile, error) {
	var row models.User
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, entitlement.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to load user %s: %w", id, err)
	}

	p, err := ToProfile(&row)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) Insert(ctx context.Context, p entitlement.Profile) error {
	if err := s.db.WithContext(ctx).Create(FromProfile(p)).Error; err != nil {
		return fmt.Errorf("failed to insert user %s: %w", p.ID, err)
	}
	return nil
}

// Update writes the profile columns only; account columns are never touched.
func (s *Store) Update(ctx context.Context, p entitlement.Profile) error {
	cols := profileColumns(p)
	cols["updated_at"] = time.Now().UTC()

	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", p.ID).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("failed to update user %s: %w", p.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return entitlement.ErrProfileNotFound
	}
	return nil
}

// CreateAccount inserts a new account row with the default profile columns.
func (s *Store) CreateAccount(ctx context.Context, user *models.User) error {
	if len(user.PurchasedProducts) == 0 {
		user.PurchasedProducts = encodeProducts(nil)
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.User, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, "email = ?", email)
}

func (s *Store) FindByAppleUserID(ctx context.Context, appleUserID string) (*models.User, error) {
	return s.findOne(ctx, "apple_user_id = ?", appleUserID)
}

func (s *Store) findOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where(query, arg).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &user, nil
}

// LinkApple attaches an Apple identity to an existing account.
func (s *Store) LinkApple(ctx context.Context, userID, appleUserID string) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"apple_user_id": appleUserID,
			"auth_provider": models.ProviderApple,
		}).Error
}

func (s *Store) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// FindActiveRefreshToken returns an unrevoked token by hash; expiry is the caller's check.
func (s *Store) FindActiveRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	var stored models.RefreshToken
	err := s.db.WithContext(ctx).Where("token_hash = ? AND revoked = false", tokenHash).First(&stored).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}
	return &stored, nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token_hash = ?", tokenHash).
		Update("revoked", true).Error
}

func (s *Store) RevokeUserTokens(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked = false", userID).
		Update("revoked", true).Error
}
