package domain

import "time"

type UserStatus string

const (
	UserStatusPending   UserStatus = "PENDING"
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

type User struct {
	ID          UserID     `gorm:"type:uuid;primaryKey" db:"id" json:"id"`
	Email       string     `gorm:"type:citext;uniqueIndex:ux_users_email" db:"email" json:"email"`
	Name        string     `gorm:"type:text" db:"name" json:"name"`
	Status      UserStatus `gorm:"type:text;not null;default:'PENDING'" db:"status" json:"status"`
	Roles       string     `gorm:"type:text;not null;default:'STUDENT'" db:"roles" json:"roles"`
	LastLoginAt *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `gorm:"not null" db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"not null" db:"updated_at" json:"updatedAt"`
}

func (User) TableName() string { return "users" }
