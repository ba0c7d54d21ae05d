package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
)

type accountRepository struct {
	db *DB
}

var _ account.Repository = (*accountRepository)(nil) // interface compliance check

func NewAccountRepository(db *DB) account.Repository {
	return &accountRepository{db: db}
}

// withProfile must be called with the lock held.
func (repo *accountRepository) withProfile(acc account.Account) account.Account {
	if prof, ok := repo.db.state.profiles[acc.ID]; ok {
		acc.Profile = &prof
	}
	return acc
}

func (repo *accountRepository) CreateAccount(_ context.Context, acc account.Account, exec ...core.DBExecutor) (account.Account, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, a := range repo.db.state.accounts {
		if a.Email == acc.Email {
			return account.Account{}, account.ErrEmailExists
		}
	}
	acc.ID = uuid.New().String()
	acc.Profile = nil
	repo.db.state.accounts[acc.ID] = acc
	onRollback(exec, func(s *state) { delete(s.accounts, acc.ID) })
	return acc, nil
}

func (repo *accountRepository) CreateProfile(_ context.Context, p account.Profile, exec ...core.DBExecutor) (account.Profile, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.state.accounts[p.AccountID]; !ok {
		return account.Profile{}, account.ErrNotFound
	}
	p.ID = repo.db.state.nextID()
	repo.db.state.profiles[p.AccountID] = p
	onRollback(exec, func(s *state) { delete(s.profiles, p.AccountID) })
	return p, nil
}

func (repo *accountRepository) GetAccount(_ context.Context, filter account.GetFilter, _ ...core.DBExecutor) (account.Account, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if filter.ID != "" {
		if acc, ok := repo.db.state.accounts[filter.ID]; ok {
			return repo.withProfile(acc), nil
		}
		return account.Account{}, account.ErrNotFound
	}
	if filter.Email != "" {
		for _, acc := range repo.db.state.accounts {
			if acc.Email == filter.Email {
				return repo.withProfile(acc), nil
			}
		}
	}
	return account.Account{}, account.ErrNotFound
}

func (repo *accountRepository) EmailExists(_ context.Context, email string, _ ...core.DBExecutor) (bool, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, acc := range repo.db.state.accounts {
		if acc.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (repo *accountRepository) QueryAccounts(
	_ context.Context,
	filter account.QueryFilter,
	ordering []core.DBOrdering,
	_ ...core.DBExecutor,
) ([]account.Account, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	accounts := make([]account.Account, 0)
	for _, acc := range repo.db.state.accounts {
		if filter.Role != "" && acc.Role != filter.Role {
			continue
		}
		if filter.Status != "" && acc.Status != filter.Status {
			continue
		}
		accounts = append(accounts, repo.withProfile(acc))
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	sort.SliceStable(accounts, func(i, j int) bool {
		for _, ord := range ordering {
			cmp := compareAccounts(accounts[i], accounts[j], ord.Field)
			if cmp == 0 {
				continue
			}
			if ord.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return accounts[i].ID < accounts[j].ID
	})
	return accounts, nil
}

func compareAccounts(a, b account.Account, field string) int {
	switch field {
	case "name":
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	case "email":
		return strings.Compare(a.Email, b.Email)
	case "created_at":
		switch {
		case a.CreatedAt.Before(b.CreatedAt):
			return -1
		case a.CreatedAt.After(b.CreatedAt):
			return 1
		}
	}
	return 0
}

func (repo *accountRepository) UpdateAccount(_ context.Context, acc account.Account, exec ...core.DBExecutor) (account.Account, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	// only save mutable fields
	orig, ok := repo.db.state.accounts[acc.ID]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	prev := orig
	orig.Name = acc.Name
	if acc.PasswordHash != nil {
		orig.PasswordHash = acc.PasswordHash
	}
	orig.Role = acc.Role
	orig.Status = acc.Status
	orig.EmailVerifiedAt = acc.EmailVerifiedAt
	orig.LastLogin = acc.LastLogin
	orig.UpdatedAt = acc.UpdatedAt

	repo.db.state.accounts[acc.ID] = orig
	onRollback(exec, func(s *state) {
		if cur, ok := s.accounts[prev.ID]; ok {
			prev.SessionVersion = cur.SessionVersion
			s.accounts[prev.ID] = prev
		}
	})
	return repo.withProfile(orig), nil
}

func (repo *accountRepository) BumpSessionVersion(_ context.Context, id string, exec ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	acc, ok := repo.db.state.accounts[id]
	if !ok {
		return 0, account.ErrNotFound
	}
	acc.SessionVersion++
	repo.db.state.accounts[id] = acc
	onRollback(exec, func(s *state) {
		if cur, ok := s.accounts[id]; ok {
			cur.SessionVersion--
			s.accounts[id] = cur
		}
	})
	return acc.SessionVersion, nil
}
