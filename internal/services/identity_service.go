package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// IdentityProvider owns users, roles and memberships. Provisioning only talks
// to identities through this interface; every removal must be a no-op when
// the record is already gone.
type IdentityProvider interface {
	CreateUser(ctx context.Context, email, password, displayName string) (*models.User, error)
	DeleteUser(ctx context.Context, userID uuid.UUID) error
	AssignRole(ctx context.Context, userID, orgID uuid.UUID, role string) error
	RevokeRole(ctx context.Context, userID, orgID uuid.UUID, role string) error
	LinkOrganization(ctx context.Context, userID, orgID uuid.UUID) error
	UnlinkOrganization(ctx context.Context, userID, orgID uuid.UUID) error
}

// IdentityService is the default IdentityProvider backed by the local
// users, user_roles and organization_members tables.
type IdentityService struct {
	db           *gorm.DB
	jwtSecret    string
	accessExpiry time.Duration
}

func NewIdentityService(db *gorm.DB, jwtSecret string, accessExpiry time.Duration) *IdentityService {
	return &IdentityService{db: db, jwtSecret: jwtSecret, accessExpiry: accessExpiry}
}

var _ IdentityProvider = (*IdentityService)(nil)

func (s *IdentityService) CreateUser(ctx context.Context, email, password, displayName string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.New("a valid email is required")
	}

	if password == "" {
		// Owners created without a password sign in through a reset flow.
		random, err := randomSecret()
		if err != nil {
			return nil, err
		}
		password = random
	} else if len(password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if displayName == "" {
		displayName = strings.Split(email, "@")[0]
	}

	user := models.User{
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  displayName,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

func (s *IdentityService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	return s.db.WithContext(ctx).Where("id = ?", userID).Delete(&models.User{}).Error
}

func (s *IdentityService) AssignRole(ctx context.Context, userID, orgID uuid.UUID, role string) error {
	record := models.UserRole{UserID: userID, OrganizationID: &orgID, Role: role}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to assign role %s: %w", role, err)
	}
	return nil
}

func (s *IdentityService) RevokeRole(ctx context.Context, userID, orgID uuid.UUID, role string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND organization_id = ? AND role = ?", userID, orgID, role).
		Delete(&models.UserRole{}).Error
}

func (s *IdentityService) LinkOrganization(ctx context.Context, userID, orgID uuid.UUID) error {
	member := models.OrganizationMember{UserID: userID, OrganizationID: orgID}
	if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
		return fmt.Errorf("failed to link user to organization: %w", err)
	}
	return nil
}

func (s *IdentityService) UnlinkOrganization(ctx context.Context, userID, orgID uuid.UUID) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND organization_id = ?", userID, orgID).
		Delete(&models.OrganizationMember{}).Error
}

// IsPlatformAdmin reports whether the user holds the unscoped platform_admin role.
func (s *IdentityService) IsPlatformAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.UserRole{}).
		Where("user_id = ? AND role = ?", userID, models.RolePlatformAdmin).
		Count(&count).Error
	return count > 0, err
}

// PrimaryOrganization returns the first organization the user belongs to.
func (s *IdentityService) PrimaryOrganization(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	var member models.OrganizationMember
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, ErrOrganizationNotFound
		}
		return uuid.Nil, err
	}
	return member.OrganizationID, nil
}

// Login verifies credentials and issues a token scoped to the user's primary
// organization and role there.
func (s *IdentityService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	orgID, err := s.PrimaryOrganization(ctx, user.ID)
	if err != nil && !errors.Is(err, ErrOrganizationNotFound) {
		return "", nil, err
	}

	role := models.RoleMember
	if orgID != uuid.Nil {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.UserRole{}).
			Where("user_id = ? AND organization_id = ? AND role = ?", user.ID, orgID, models.RoleAdmin).
			Count(&count).Error; err != nil {
			return "", nil, err
		}
		if count > 0 {
			role = models.RoleAdmin
		}
	}

	token, err := s.IssueAccessToken(&user, orgID, role)
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}

// IssueAccessToken signs a short-lived HS256 token for the collaborator API.
func (s *IdentityService) IssueAccessToken(user *models.User, orgID uuid.UUID, role string) (string, error) {
	if s.jwtSecret == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":    user.ID.String(),
		"email":  user.Email,
		"org_id": orgID.String(),
		"role":   role,
		"iat":    now.Unix(),
		"exp":    now.Add(s.accessExpiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

func randomSecret() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
