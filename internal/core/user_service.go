package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"linkrole-backend-go/internal/db"
	"linkrole-backend-go/internal/models"
	"linkrole-backend-go/internal/plans"
)

// ErrUserNotFound is returned when a user is not found.
var ErrUserNotFound = errors.New("user not found")

// userService implements the UserService interface.
type userService struct {
	userRepo db.UserRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewUserService creates a new UserService instance.
func NewUserService(userRepo db.UserRepository, logger *zap.Logger) UserService {
	return &userService{
		userRepo: userRepo,
		logger:   logger,
		now:      time.Now,
	}
}

// GetOrCreate retrieves a user by ID, creating the profile on the free plan
// when it does not exist yet (called after client-side Firebase login).
// Returns the user, whether it was created, and an error if any.
func (s *userService) GetOrCreate(ctx context.Context, userID, email, displayName, photoURL string) (*models.User, bool, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			newUser := &models.User{
				ID:          userID, // Firebase Auth UID is the document ID
				Email:       email,
				DisplayName: displayName,
				PhotoURL:    photoURL,
				Plan:        string(plans.Free),
			}
			if createErr := s.userRepo.Create(ctx, newUser); createErr != nil {
				return nil, false, fmt.Errorf("failed to create user (id: %s) after not found: %w", userID, createErr)
			}
			return newUser, true, nil
		}
		return nil, false, fmt.Errorf("failed to get user by ID '%s' from repository: %w", userID, err)
	}

	user, err = s.applyLazyExpiry(ctx, user)
	if err != nil {
		return nil, false, err
	}
	return user, false, nil
}

// GetByID retrieves a user by their ID, applying the lazy expiry downgrade.
func (s *userService) GetByID(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: user with ID '%s'", ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("failed to get user by ID '%s' from repository: %w", userID, err)
	}
	return s.applyLazyExpiry(ctx, user)
}

// applyLazyExpiry downgrades a paid plan whose expiry date has passed.
// There is no background sweep; expiry is enforced on the next read.
func (s *userService) applyLazyExpiry(ctx context.Context, user *models.User) (*models.User, error) {
	if user.Plan == string(plans.Free) || user.PlanExpiryDate == nil {
		return user, nil
	}
	now := s.now()
	if !user.PlanExpiryDate.Before(now) {
		return user, nil
	}

	fields := map[string]interface{}{
		"plan":                     string(plans.Free),
		"planUpdatedAt":            now,
		"planExpiryDate":           nil,
		"stripeSubscriptionStatus": "expired",
		"updatedAt":                now,
	}
	if err := s.userRepo.UpdateFields(ctx, user.ID, fields); err != nil {
		return nil, fmt.Errorf("failed to apply plan expiry for user '%s': %w", user.ID, err)
	}

	s.logger.Info("Expired plan downgraded on read",
		zap.String("user_id", user.ID),
		zap.String("previous_plan", user.Plan),
		zap.Time("expired_at", *user.PlanExpiryDate))

	user.Plan = string(plans.Free)
	user.PlanUpdatedAt = now
	user.PlanExpiryDate = nil
	user.StripeSubscriptionStatus = "expired"
	return user, nil
}
