package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/invite"
)

type inviteRepository struct {
	db *DB
}

var _ invite.Repository = (*inviteRepository)(nil) // interface compliance check

func NewInviteRepository(db *DB) invite.Repository {
	return &inviteRepository{db: db}
}

func (repo *inviteRepository) GetCode(_ context.Context, code string, _ ...core.DBExecutor) (invite.Code, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if c, ok := repo.db.state.invites[code]; ok {
		return c, nil
	}
	return invite.Code{}, invite.ErrNotFound
}

// IncrementUsage checks and increments under the write lock, like the conditional UPDATE does in postgres.
func (repo *inviteRepository) IncrementUsage(_ context.Context, code string, now time.Time, exec ...core.DBExecutor) (invite.Code, bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	c, ok := repo.db.state.invites[code]
	if !ok || c.CheckRedeemable(now) != nil {
		return invite.Code{}, false, nil
	}
	c.UsedCount++
	c.UpdatedAt = now
	repo.db.state.invites[code] = c
	onRollback(exec, func(s *state) {
		if cur, ok := s.invites[code]; ok {
			cur.UsedCount--
			s.invites[code] = cur
		}
	})
	return c, true, nil
}

func (repo *inviteRepository) CreateCode(_ context.Context, c invite.Code, exec ...core.DBExecutor) (invite.Code, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.state.invites[c.Code]; ok {
		return invite.Code{}, invite.ErrCodeExists
	}
	c.ID = repo.db.state.nextID()
	repo.db.state.invites[c.Code] = c
	onRollback(exec, func(s *state) { delete(s.invites, c.Code) })
	return c, nil
}

func (repo *inviteRepository) QueryCodes(_ context.Context, _ ...core.DBExecutor) ([]invite.Code, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	codes := make([]invite.Code, 0, len(repo.db.state.invites))
	for _, c := range repo.db.state.invites {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool {
		if !codes[i].CreatedAt.Equal(codes[j].CreatedAt) {
			return codes[i].CreatedAt.After(codes[j].CreatedAt)
		}
		return codes[i].ID > codes[j].ID
	})
	return codes, nil
}

func (repo *inviteRepository) DeactivateCode(_ context.Context, code string, now time.Time, exec ...core.DBExecutor) (invite.Code, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	c, ok := repo.db.state.invites[code]
	if !ok {
		return invite.Code{}, invite.ErrNotFound
	}
	wasActive := c.IsActive
	c.IsActive = false
	c.UpdatedAt = now
	repo.db.state.invites[code] = c
	onRollback(exec, func(s *state) {
		if cur, ok := s.invites[code]; ok {
			cur.IsActive = wasActive
			s.invites[code] = cur
		}
	})
	return c, nil
}
