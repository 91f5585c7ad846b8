package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/lib/sl"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/session"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired refresh token")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrNoSession          = errors.New("no active session")
)

const minPasswordLength = 8

// AccountStore is the account side of the identity store.
type AccountStore interface {
	CreateAccount(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByAppleUserID(ctx context.Context, appleUserID string) (*models.User, error)
	LinkApple(ctx context.Context, userID, appleUserID string) error
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindActiveRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeUserTokens(ctx context.Context, userID string) error
}

type SessionInfo struct {
	Profile              entitlement.Profile
	HasActiveEntitlement bool
}

type AuthService struct {
	cfg      *config.Config
	accounts AccountStore
	profiles entitlement.IdentityStore
	apple    IdentityTokenVerifier
	sessions session.Publisher
	now      func() time.Time
	log      *slog.Logger
}

func NewAuthService(
	cfg *config.Config,
	accounts AccountStore,
	profiles entitlement.IdentityStore,
	apple IdentityTokenVerifier,
	sessions session.Publisher,
	log *slog.Logger,
) *AuthService {
	return &AuthService{
		cfg:      cfg,
		accounts: accounts,
		profiles: profiles,
		apple:    apple,
		sessions: sessions,
		now:      time.Now,
		log:      log,
	}
}

func (s *AuthService) SignInAnonymous(ctx context.Context) (*dto.AuthResponse, error) {
	user := &models.User{
		ID:           uuid.NewString(),
		AuthProvider: models.ProviderAnonymous,
	}
	if err := s.accounts.CreateAccount(ctx, user); err != nil {
		return nil, err
	}
	return s.signedIn(ctx, user)
}

func (s *AuthService) SignUp(ctx context.Context, req *dto.RegisterRequest) (*dto.AuthResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, ErrInvalidCredentials
	}
	if len(req.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	_, err := s.accounts.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, ErrEmailTaken
	case !errors.Is(err, identity.ErrAccountNotFound):
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        &email,
		FirstName:    optional(req.FirstName),
		LastName:     optional(req.LastName),
		PasswordHash: string(hash),
		AuthProvider: models.ProviderEmail,
	}
	if err := s.accounts.CreateAccount(ctx, user); err != nil {
		return nil, err
	}
	return s.signedIn(ctx, user)
}

func (s *AuthService) SignIn(ctx context.Context, req *dto.LoginRequest) (*dto.AuthResponse, error) {
	user, err := s.accounts.FindByEmail(ctx, normalizeEmail(req.Email))
	if errors.Is(err, identity.ErrAccountNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.signedIn(ctx, user)
}

func (s *AuthService) SignInWithApple(ctx context.Context, req *dto.AppleSignInRequest) (*dto.AuthResponse, error) {
	claims, err := s.apple.Verify(ctx, req.IdentityToken)
	if err != nil {
		s.log.Warn("apple token verification failed", sl.Err(err))
		return nil, err
	}

	user, err := s.accounts.FindByAppleUserID(ctx, claims.Subject)
	if err == nil {
		return s.signedIn(ctx, user)
	}
	if !errors.Is(err, identity.ErrAccountNotFound) {
		return nil, err
	}

	// Only an email Apple vouches for may select an existing account.
	if email := normalizeEmail(claims.Email); email != "" && claims.EmailVerified {
		user, err = s.accounts.FindByEmail(ctx, email)
		switch {
		case err == nil:
			if err := s.accounts.LinkApple(ctx, user.ID, claims.Subject); err != nil {
				return nil, fmt.Errorf("failed to link Apple account: %w", err)
			}
			user.AppleUserID = &claims.Subject
			user.AuthProvider = models.ProviderApple
			return s.signedIn(ctx, user)
		case !errors.Is(err, identity.ErrAccountNotFound):
			return nil, err
		}
	}

	email, err := s.unclaimedEmail(ctx, claims, req.Email)
	if err != nil {
		return nil, err
	}

	appleUserID := claims.Subject
	user = &models.User{
		ID:           uuid.NewString(),
		Email:        optional(email),
		FirstName:    optional(req.FirstName),
		LastName:     optional(req.LastName),
		AppleUserID:  &appleUserID,
		AuthProvider: models.ProviderApple,
	}
	if err := s.accounts.CreateAccount(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create Apple user: %w", err)
	}
	return s.signedIn(ctx, user)
}

// unclaimedEmail picks the contact email stored on a new Apple account. It is
// profile data only and is dropped when another account already owns it.
func (s *AuthService) unclaimedEmail(ctx context.Context, claims *AppleClaims, fromRequest string) (string, error) {
	email := normalizeEmail(claims.Email)
	if email == "" {
		email = normalizeEmail(fromRequest)
	}
	if email == "" {
		return "", nil
	}

	_, err := s.accounts.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return "", nil
	case errors.Is(err, identity.ErrAccountNotFound):
		return email, nil
	default:
		return "", err
	}
}

// Refresh rotates the refresh token: the presented one is revoked either way.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*dto.AuthResponse, error) {
	tokenHash := hashToken(refreshToken)

	stored, err := s.accounts.FindActiveRefreshToken(ctx, tokenHash)
	if errors.Is(err, identity.ErrTokenNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	if err := s.accounts.RevokeRefreshToken(ctx, tokenHash); err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if s.now().After(stored.ExpiresAt) {
		return nil, ErrInvalidToken
	}

	user, err := s.accounts.FindByID(ctx, stored.UserID)
	if errors.Is(err, identity.ErrAccountNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	return s.tokenPair(ctx, user)
}

// SignOut revokes refreshToken, or every token of userID when it is empty.
func (s *AuthService) SignOut(ctx context.Context, userID, refreshToken string) error {
	var err error
	if refreshToken == "" {
		err = s.accounts.RevokeUserTokens(ctx, userID)
	} else {
		err = s.accounts.RevokeRefreshToken(ctx, hashToken(refreshToken))
	}
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	s.publish(ctx, session.SignedOut(userID, s.now()))
	return nil
}

func (s *AuthService) CurrentSession(ctx context.Context, userID string) (*SessionInfo, error) {
	p, err := s.profiles.GetByID(ctx, userID)
	if errors.Is(err, entitlement.ErrProfileNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	return &SessionInfo{Profile: *p, HasActiveEntitlement: p.HasActiveEntitlement(s.now())}, nil
}

func (s *AuthService) signedIn(ctx context.Context, user *models.User) (*dto.AuthResponse, error) {
	resp, err := s.tokenPair(ctx, user)
	if err != nil {
		return nil, err
	}

	p, err := s.profiles.GetByID(ctx, user.ID)
	if err != nil {
		s.log.Warn("signed in without a readable profile", slog.String("user_id", user.ID), sl.Err(err))
		return resp, nil
	}
	s.publish(ctx, session.Authenticated(*p, s.now()))
	return resp, nil
}

func (s *AuthService) publish(ctx context.Context, st session.State) {
	if err := s.sessions.Publish(ctx, st); err != nil {
		s.log.Warn("failed to publish session state", slog.String("user_id", st.UserID), sl.Err(err))
	}
}

func (s *AuthService) tokenPair(ctx context.Context, user *models.User) (*dto.AuthResponse, error) {
	accessToken, err := s.accessToken(user)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.refreshToken(ctx, user)
	if err != nil {
		return nil, err
	}

	return &dto.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.cfg.JWTAccessExpiry.Seconds()),
		User:         userResponse(user),
	}, nil
}

func (s *AuthService) accessToken(user *models.User) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":      user.ID,
		"provider": user.AuthProvider,
		"iat":      now.Unix(),
		"exp":      now.Add(s.cfg.JWTAccessExpiry).Unix(),
	}
	if user.Email != nil {
		claims["email"] = *user.Email
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

func (s *AuthService) refreshToken(ctx context.Context, user *models.User) (string, error) {
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	rawToken := base64.URLEncoding.EncodeToString(rawBytes)

	record := &models.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: hashToken(rawToken),
		ExpiresAt: s.now().Add(s.cfg.JWTRefreshExpiry),
	}
	if err := s.accounts.CreateRefreshToken(ctx, record); err != nil {
		return "", err
	}
	return rawToken, nil
}

func userResponse(user *models.User) dto.UserResponse {
	resp := dto.UserResponse{
		ID:           user.ID,
		AuthProvider: user.AuthProvider,
		IsAppleUser:  user.AuthProvider == models.ProviderApple,
		IsAnonymous:  user.AuthProvider == models.ProviderAnonymous,
	}
	if user.Email != nil {
		resp.Email = *user.Email
	}
	resp.FullName = entitlement.DisplayName(user.FirstName, user.LastName)
	return resp
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h)
}
