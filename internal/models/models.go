package models

import (
	"time"

	"gorm.io/datatypes"
)

type User struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Email        string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash string     `gorm:"not null" json:"-"`
	IsActive     bool       `gorm:"not null;default:true" json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Role struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"uniqueIndex;size:100;not null" json:"name"`
	Description string    `gorm:"not null;default:''" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is immutable after creation except for its description.
type Permission struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"uniqueIndex;size:100;not null" json:"name"`
	Description  string    `gorm:"not null;default:''" json:"description"`
	ResourceType string    `gorm:"size:100;not null;index:idx_permission_resource_action" json:"resource_type"`
	ActionType   string    `gorm:"size:100;not null;index:idx_permission_resource_action" json:"action_type"`
	CreatedAt    time.Time `json:"created_at"`
}

type UserRole struct {
	UserID     int64     `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	RoleID     int64     `gorm:"primaryKey;autoIncrement:false;index" json:"role_id"`
	AssignedAt time.Time `gorm:"not null" json:"assigned_at"`
	AssignedBy *int64    `json:"assigned_by,omitempty"`

	User User `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"-"`
	Role Role `gorm:"constraint:OnDelete:CASCADE;foreignKey:RoleID;references:ID" json:"-"`
}

type RolePermission struct {
	RoleID       int64     `gorm:"primaryKey;autoIncrement:false" json:"role_id"`
	PermissionID int64     `gorm:"primaryKey;autoIncrement:false;index" json:"permission_id"`
	GrantedAt    time.Time `gorm:"not null" json:"granted_at"`
	GrantedBy    *int64    `json:"granted_by,omitempty"`

	Role       Role       `gorm:"constraint:OnDelete:CASCADE;foreignKey:RoleID;references:ID" json:"-"`
	Permission Permission `gorm:"constraint:OnDelete:CASCADE;foreignKey:PermissionID;references:ID" json:"-"`
}

// PasswordResetToken stores only the SHA-256 of the token handed to the user.
type PasswordResetToken struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"not null;uniqueIndex:idx_reset_user_token" json:"user_id"`
	TokenHash string    `gorm:"size:64;not null;uniqueIndex:idx_reset_user_token;uniqueIndex:idx_reset_token" json:"-"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`

	User User `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"-"`
}

// AuditLog is append-only; nothing in this service updates or deletes rows.
type AuditLog struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ActorID    *int64         `gorm:"index" json:"actor_id,omitempty"`
	Action     string         `gorm:"size:64;not null;index" json:"action"`
	EntityType string         `gorm:"size:64;not null;index:idx_audit_entity" json:"entity_type"`
	EntityID   string         `gorm:"size:64;not null;index:idx_audit_entity" json:"entity_id"`
	OldValue   datatypes.JSON `json:"old_value,omitempty"`
	NewValue   datatypes.JSON `json:"new_value,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

func (User) TableName() string               { return "users" }
func (Role) TableName() string               { return "roles" }
func (Permission) TableName() string         { return "permissions" }
func (UserRole) TableName() string           { return "user_roles" }
func (RolePermission) TableName() string     { return "role_permissions" }
func (PasswordResetToken) TableName() string { return "password_reset_tokens" }
func (AuditLog) TableName() string           { return "permission_audit_log" }

// All lists every model in migration order.
func All() []any {
	return []any{
		&User{}, &Role{}, &Permission{},
		&UserRole{}, &RolePermission{},
		&PasswordResetToken{}, &AuditLog{},
	}
}

// RoleWithPermissions is a role plus the permissions granted to it.
type RoleWithPermissions struct {
	Role
	Permissions []Permission `json:"permissions"`
}
