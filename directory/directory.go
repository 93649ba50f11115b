// Package directory is the read-side adapter to the external user directory.
// Registration, login and credential storage live in another service; the
// relay only resolves IDs to profiles so clients can render caller identity.
package directory

import (
	"context"

	"gorm.io/gorm"

	"chatflow/signaling/models"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindByIDs resolves user IDs to profiles. Unknown IDs are simply absent from
// the result; the caller decides how to render a missing user.
func (s *Store) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}

	var users []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
