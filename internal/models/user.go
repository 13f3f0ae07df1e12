package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleAdmin         = "admin"
	RoleMember        = "member"
	RolePlatformAdmin = "platform_admin"
)

// User is a local identity. Owners are created by provisioning.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email        string    `gorm:"not null;size:255;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	DisplayName  string    `gorm:"size:255" json:"display_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// UserRole grants a role to a user, optionally scoped to one organization.
type UserRole struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_user_roles_user_org_role,priority:1" json:"user_id"`
	OrganizationID *uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_user_roles_user_org_role,priority:2" json:"organization_id,omitempty"`
	Role           string     `gorm:"size:30;not null;uniqueIndex:idx_user_roles_user_org_role,priority:3" json:"role"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (r *UserRole) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// OrganizationMember links a user to an organization.
type OrganizationMember struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_org_members_org_user,priority:1" json:"organization_id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_org_members_org_user,priority:2;index" json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func (m *OrganizationMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
