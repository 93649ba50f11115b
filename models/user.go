package models

import "time"

// User mirrors the external directory's users table. The directory itself
// (registration, login, credentials) lives outside this service; this model
// is read-only here and exists so incoming calls can render caller identity.
type User struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// BatchUsersRequest is the body of POST /api/users/batch.
type BatchUsersRequest struct {
	UserIDs []string `json:"user_ids" binding:"required"`
}
