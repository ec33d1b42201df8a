// Package premium persists the set of premium user ids. The store is an
// explicitly constructed client owned by the caller; there is no process-wide
// singleton.
package premium

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const usersKey = "premium_users"

const maxUserIDLen = 20

var (
	// ErrInvalidUserID marks a user id that failed validation before any
	// store operation was attempted.
	ErrInvalidUserID = errors.New("premium: invalid user id")
	// ErrUnavailable marks a store connection failure, distinct from a
	// logical negative (user simply not in the set).
	ErrUnavailable = errors.New("premium: store unavailable")
)

// SetStore is the slice of Redis the service needs. *redis.Client satisfies
// it; tests inject fakes.
type SetStore interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Close() error
}

type Service struct {
	store SetStore
}

func NewService(store SetStore) *Service {
	return &Service{store: store}
}

// Close releases the underlying store connection.
func (s *Service) Close() error {
	return s.store.Close()
}

// ValidateUserID accepts only non-empty numeric strings of at most 20
// characters.
func ValidateUserID(userID string) error {
	if userID == "" || len(userID) > maxUserIDLen {
		return fmt.Errorf("%w: must be 1-%d characters", ErrInvalidUserID, maxUserIDLen)
	}
	for _, r := range userID {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: must contain only digits", ErrInvalidUserID)
		}
	}
	return nil
}

// Add inserts userID into the premium set. It reports whether the user was
// newly added (false means already present).
func (s *Service) Add(ctx context.Context, userID string) (bool, error) {
	if err := ValidateUserID(userID); err != nil {
		return false, err
	}
	n, err := s.store.SAdd(ctx, usersKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}

// Remove deletes userID from the premium set. It reports whether the user was
// actually a member.
func (s *Service) Remove(ctx context.Context, userID string) (bool, error) {
	if err := ValidateUserID(userID); err != nil {
		return false, err
	}
	n, err := s.store.SRem(ctx, usersKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}

// Contains reports whether userID is a premium member.
func (s *Service) Contains(ctx context.Context, userID string) (bool, error) {
	if err := ValidateUserID(userID); err != nil {
		return false, err
	}
	ok, err := s.store.SIsMember(ctx, usersKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

// ListAll returns every premium user id.
func (s *Service) ListAll(ctx context.Context) ([]string, error) {
	ids, err := s.store.SMembers(ctx, usersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ids, nil
}
