package core

import (
	"context"
	"fmt"
	"strings"

	"gwi.com/apex-chat/internal/store"
)

type UserStore interface {
	CreateUser(ctx context.Context, user *store.User) error
	GetUser(ctx context.Context, userID string) (*store.User, error)
	UpdateUser(ctx context.Context, user *store.User) error
}

type UserService struct {
	users UserStore
}

func NewUserService(users UserStore) *UserService {
	return &UserService{users: users}
}

// ProfileUpdate lists the fields to change. Nil fields keep their stored value.
type ProfileUpdate struct {
	Username  *string
	FirstName *string
	LastName  *string
}

// CreateUser inserts a new profile. It fails with *store.DuplicateFieldError when the userId,
// username or email is already in use.
func (s *UserService) CreateUser(ctx context.Context, user store.User) (*store.User, error) {
	user.UserID = strings.TrimSpace(user.UserID)
	user.Username = strings.TrimSpace(user.Username)
	user.Email = strings.TrimSpace(user.Email)
	if user.UserID == "" || user.Username == "" || user.Email == "" {
		return nil, fmt.Errorf("%w: userId, username, and email are required", ErrValidation)
	}
	if err := s.users.CreateUser(ctx, &user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

func (s *UserService) GetUser(ctx context.Context, userID string) (*store.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdateProfile changes the profile of an existing user. The email address cannot be changed.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*store.User, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if update.Username != nil {
		username := strings.TrimSpace(*update.Username)
		if username == "" {
			return nil, fmt.Errorf("%w: username cannot be empty", ErrValidation)
		}
		user.Username = username
	}
	if update.FirstName != nil {
		user.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		user.LastName = *update.LastName
	}
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}
