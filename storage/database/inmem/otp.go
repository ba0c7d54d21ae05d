package inmemdb

import (
	"context"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/otp"
)

type otpRepository struct {
	db *DB
}

var _ otp.Repository = (*otpRepository)(nil) // interface compliance check

func NewOTPRepository(db *DB) otp.Repository {
	return &otpRepository{db: db}
}

func (repo *otpRepository) CreateChallenge(_ context.Context, ch otp.Challenge, exec ...core.DBExecutor) (otp.Challenge, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	ch.ID = repo.db.state.nextID()
	repo.db.state.challenges[ch.ID] = ch
	onRollback(exec, func(s *state) { delete(s.challenges, ch.ID) })
	return ch, nil
}

func (repo *otpRepository) GetLatestUnverified(_ context.Context, email string, _ ...core.DBExecutor) (otp.Challenge, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var (
		latest otp.Challenge
		found  bool
	)
	for _, ch := range repo.db.state.challenges {
		if ch.Email != email || ch.IsVerified {
			continue
		}
		if !found || ch.CreatedAt.After(latest.CreatedAt) || (ch.CreatedAt.Equal(latest.CreatedAt) && ch.ID > latest.ID) {
			latest, found = ch, true
		}
	}
	if !found {
		return otp.Challenge{}, otp.ErrNotFound
	}
	return latest, nil
}

func (repo *otpRepository) MarkVerified(_ context.Context, id int64, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	ch, ok := repo.db.state.challenges[id]
	if !ok || ch.IsVerified {
		return otp.ErrNotFound
	}
	ch.IsVerified = true
	repo.db.state.challenges[id] = ch
	onRollback(exec, func(s *state) {
		if cur, ok := s.challenges[id]; ok {
			cur.IsVerified = false
			s.challenges[id] = cur
		}
	})
	return nil
}

func (repo *otpRepository) DeleteChallenges(_ context.Context, email string, exec ...core.DBExecutor) (int64, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var deleted []otp.Challenge
	for id, ch := range repo.db.state.challenges {
		if ch.Email == email {
			delete(repo.db.state.challenges, id)
			deleted = append(deleted, ch)
		}
	}
	onRollback(exec, func(s *state) {
		for _, ch := range deleted {
			s.challenges[ch.ID] = ch
		}
	})
	return int64(len(deleted)), nil
}
