package service

import (
	"context"
	"errors"

	"github.com/studysync/studysync-go/internal/model"
	"github.com/studysync/studysync-go/internal/repository"
)

var ErrInvalidQuizResult = errors.New("correct answers must be between 0 and the number of questions")

// StatsService reads and updates per-user usage counters.
type StatsService struct {
	users repository.UserStore
}

func NewStatsService(users repository.UserStore) *StatsService {
	return &StatsService{users: users}
}

// Get returns the counters of userID.
func (s *StatsService) Get(ctx context.Context, userID string) (model.Stats, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.Stats{}, ErrUserNotFound
		}
		return model.Stats{}, err
	}
	return user.Stats, nil
}

// Increment adds delta to the named counters of userID. Unknown names are
// ignored.
func (s *StatsService) Increment(ctx context.Context, userID string, delta map[string]int) error {
	err := s.users.UpdateStats(ctx, userID, delta)
	if errors.Is(err, repository.ErrUserNotFound) {
		return ErrUserNotFound
	}
	return err
}

// RecordQuizResult adds a finished quiz to the question and answer totals.
func (s *StatsService) RecordQuizResult(ctx context.Context, userID string, total, correct int) error {
	if total < 0 || correct < 0 || correct > total {
		return ErrInvalidQuizResult
	}
	return s.Increment(ctx, userID, map[string]int{
		model.StatTotalQuestions: total,
		model.StatCorrectAnswers: correct,
	})
}
