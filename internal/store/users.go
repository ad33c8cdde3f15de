package store

import (
	"context"
	"fmt"
	"strings"

	"kassa/backend/internal/domain"
)

func (s *Store) CreateUser(_ context.Context, user domain.User) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" {
		return fmt.Errorf("%w: username required", domain.ErrValidation)
	}
	return s.Update(func(tx *Tx) error {
		if _, err := tx.User(user.Username); err == nil {
			return fmt.Errorf("%w: username already exists", domain.ErrValidation)
		}
		tx.PutUser(user)
		return nil
	})
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	var users []domain.User
	err := s.View(func(tx *Tx) error {
		users = tx.Users()
		return nil
	})
	return users, err
}

// UpdateUser replaces an existing account.
func (s *Store) UpdateUser(_ context.Context, user domain.User) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.User(user.Username); err != nil {
			return err
		}
		tx.PutUser(user)
		return nil
	})
}
